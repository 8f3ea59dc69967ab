package limiter_test

import (
	"fmt"

	"fourlimit/limiter"
)

func ExampleNew() {
	lim, err := limiter.New(limiter.Config{
		Algorithm:     limiter.TokenBucket,
		RatePerSecond: 5,
		BurstCapacity: 2,
		SafetyBuffer:  1.0,
	})
	if err != nil {
		panic(err)
	}
	defer lim.Close()

	fmt.Println(lim.Allow("search"))
	fmt.Println(lim.Allow("search"))
	fmt.Println(lim.Allow("search"))
	// Output:
	// true
	// true
	// false
}
