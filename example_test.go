package swapgo_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/swapgo"
	"github.com/hupe1980/swapgo/codec"
)

func Example() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "swapgo-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	eng, err := swapgo.New(swapgo.WithDir(dir))
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	ids := eng.NewIntList()
	defer ids.Dispose()
	for i := range 100_000 {
		if err := ids.Add(int32(i * 2)); err != nil {
			log.Fatal(err)
		}
	}
	ids.Complete()

	v, err := ids.GetContext(ctx, 40_000)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(ids.Len(), ids.Fragments(), v)
	// Output: 100000 4 80000
}

func ExampleNewObjectList() {
	ctx := context.Background()

	eng, err := swapgo.New()
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	names := swapgo.NewObjectList(eng, codec.String{})
	defer names.Dispose()
	for _, n := range []string{"ada", "grace", "linus"} {
		_ = names.Add(n)
	}
	names.Complete()

	for name, err := range names.All(ctx) {
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(name)
	}
	// Output:
	// ada
	// grace
	// linus
}

func ExampleBasicMetricsCollector() {
	metrics := &swapgo.BasicMetricsCollector{}

	eng, err := swapgo.New(swapgo.WithMetricsCollector(metrics))
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	s := eng.NewString("payload")
	defer s.Dispose()
	s.Swap(context.Background())

	stats := metrics.GetStats()
	fmt.Println(stats.SwapCount, stats.SwapErrors)
	// Output: 1 0
}
