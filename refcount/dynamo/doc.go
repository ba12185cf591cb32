// Package dynamo implements a cluster-wide swap file reference tracker on
// Amazon DynamoDB.
//
// Counts and locks live in one table with a string partition key "path":
//
//	aws dynamodb create-table \
//	  --table-name swapgo-refs \
//	  --attribute-definitions AttributeName=path,AttributeType=S \
//	  --key-schema AttributeName=path,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
//
// Count items hold a numeric "refs" attribute. Lock items use the key
// "lock#<path>" and carry the owner token and a lease expiry, so a lock
// left behind by a crashed node is taken over once its lease ran out.
package dynamo
