// Package swapgo provides transparent spill-to-disk memory management for
// large in-process datasets.
//
// Data lives in lists split into fixed-size fragments. Completed fragments
// are handed to a swap coordinator, whose workers watch memory pressure and
// write the least recently used fragments to swap files, releasing their
// memory. Reading a swapped fragment loads it back transparently.
//
// # Quick Start
//
//	ctx := context.Background()
//	eng, err := swapgo.New(swapgo.WithDir("/var/tmp/swap"))
//	if err != nil {
//	    panic(err)
//	}
//	defer eng.Close()
//
//	ids := eng.NewIntList()
//	for i := range 1_000_000 {
//	    _ = ids.Add(int32(i))
//	}
//	ids.Complete()
//
//	v, _ := ids.GetContext(ctx, 123_456)
//
// Object lists encode values with a codec.Serializer:
//
//	names := swapgo.NewObjectList(eng, codec.String{})
//	docs := swapgo.NewObjectList(eng, codec.Value[Doc]{})
//
// # Memory Pressure
//
// Memory is sampled as a free ratio and discretized into five states,
// Critical, Bad, Low, Normal and Good. The worse the state, the more often
// workers run and the larger the share of candidates they evict. Producers
// that are about to allocate a lot call WaitForMemory, which blocks while
// memory is Critical and eviction is making progress.
//
// By default the free ratio comes from the Go memory limit (or physical
// memory). WithMemoryLimit switches to a managed-memory budget that counts
// resident fragment data and pooled buffers instead.
//
// # Swap Storage
//
// Swap files go to a blobstore.Store: a local directory by default, or a
// remote tier (blobstore/s3, blobstore/minio). Files are reference counted
// through a refcount.Tracker; refcount/dynamo shares the counts between
// processes.
//
// # Observability
//
// WithLogger and WithMetricsCollector receive swap, reload, cycle and
// memory state events. metrics/prom exports them to Prometheus.
package swapgo
