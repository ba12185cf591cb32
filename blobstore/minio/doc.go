// Package minio provides a blobstore.Store on the MinIO client, for swap
// tiers on MinIO, Ceph, Garage or any other S3-compatible service.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := minioblob.NewStore(client, "swap", "node-1/")
//	eng, err := swapgo.New(swapgo.WithStore(store))
package minio
