// Package kvblob provides backend-agnostic key/value blob storage with
// transactional scoping, bulk copy and streaming digest verification.
//
// Keys are hierarchical paths; values are streamed Content that is read once.
// The same Storage interface is served by process memory, a local directory,
// an embedded badger database and S3 compatible buckets.
//
// Basic usage:
//
//	s, _ := kvblob.Open(ctx, "file:///var/lib/artifacts")
//	defer s.Close()
//
//	// Store and read back
//	key := kvblob.NewKey("maven", "org", "lib-1.0.jar")
//	s.Save(ctx, key, kvblob.FromBytes(data))
//	c, _ := s.Value(ctx, key)
//	data, _ := kvblob.ReadAll(c)
//
//	// List everything under a prefix
//	keys, _ := s.List(ctx, kvblob.NewKey("maven"))
//
// Transactions scope a fixed set of keys. Writes are staged and applied
// together on Commit:
//
//	tx, _ := s.Transaction(ctx, []kvblob.Key{index, blob})
//	tx.Save(ctx, blob, content)
//	tx.Move(ctx, blob, index)
//	tx.Commit(ctx)
//
// Copy mirrors keys between storages:
//
//	kvblob.NewCopy(src, kvblob.WithConcurrency(8)).To(ctx, dst)
//
// Digest verification streams content through a hash:
//
//	v, _ := kvblob.ParseDigestVerification("md5:5289df737df57326fcdd22597afb1fac")
//	ok, _ := v.Validate(ctx, key, kvblob.FromStorage(s, key))
//
// With remote snapshots:
//
//	kvblob.PushSnapshot(ctx, s, "ghcr.io/org/artifacts:main")
//	kvblob.PullSnapshot(ctx, "ghcr.io/org/artifacts:main", s)
package kvblob
