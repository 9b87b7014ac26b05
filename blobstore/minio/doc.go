// Package minio stores exported collections in MinIO or any S3-compatible
// server (Ceph, Garage, SeaweedFS) through the MinIO client, without the AWS
// SDK.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := minioblob.NewStore(client, "backups", "collections/products/")
//	info, err := c.Export(ctx, store)
//
// Segment files are streamed with Create. Reads of one opened object are
// pinned to the ETag it had when opened.
package minio
