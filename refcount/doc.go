// Package refcount tracks how many owners reference a swap file, so a file
// shared by several owners is deleted only when the last one releases it.
//
// A Tracker combines a Store holding the counts with a Locker that guards
// the whole read-modify-write of a key. The in-process implementations are
// MemoryStore and LocalLocker; package refcount/dynamo provides a
// cluster-wide DynamoDB store and lock.
package refcount
