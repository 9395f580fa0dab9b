package ragcore

import "time"

func secondsToDuration(n int) time.Duration { return time.Duration(n) * time.Second }

func millisToDuration(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func hoursToDuration(hours float64) time.Duration { return time.Duration(hours * float64(time.Hour)) }
