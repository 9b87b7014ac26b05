// Package s3 provides an S3 implementation of the blobstore.Store interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("collections/products/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	err = coll.Export(ctx, store)
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for large segment files
//   - CRC32C integrity checksums on every upload
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
