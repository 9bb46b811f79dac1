// Package minio stores blobs on MinIO and other S3-compatible servers
// (Ceph, Garage, SeaweedFS) through the MinIO client.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "registries", "users")
//	reg, err := idfreelist.Open(ctx, dir, idfreelist.WithCheckpointStore(store))
package minio
