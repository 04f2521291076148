package ingest

// protobufViews returns, in priority order, the candidate byte slices
// a Protobuf decode attempt should try in turn.
// Each view is a contiguous slice of payload; duplicate slices
// (identical start/end) are suppressed, keeping only the first
// occurrence.
func protobufViews(payload []byte) [][]byte {
	var views [][]byte
	seen := make(map[[2]int]bool)

	add := func(b []byte, start, end int) {
		key := [2]int{start, end}
		if seen[key] {
			return
		}
		seen[key] = true
		views = append(views, b)
	}

	// 1. raw payload.
	add(payload, 0, len(payload))

	// 2. Confluent schema-registry envelope.
	if len(payload) > 5 && payload[0] == 0 {
		base := payload[5:]
		baseStart := 5
		add(base, baseStart, len(payload))

		for n := 1; n <= 5; n++ {
			if rest, ok := skipVarints(base, n); ok {
				start := len(payload) - len(rest)
				add(rest, start, len(payload))
			}
		}

		if c, size, ok := parseVarint(base); ok {
			count := int(c)
			if count > 5 {
				count = 5
			}
			if rest, ok := skipVarints(base[size:], count); ok {
				start := len(payload) - len(rest)
				add(rest, start, len(payload))
			}
		}
	}

	// 3. gRPC length-prefixed frame.
	if len(payload) >= 5 {
		flag := payload[0]
		if flag == 0 || flag == 1 {
			n := be32(payload[1:5])
			if uint64(len(payload)) >= 5+uint64(n) {
				add(payload[5:5+n], 5, int(5+n))
			}
		}
	}

	// 4. Bare varint length prefix.
	if l, size, ok := parseVarint(payload); ok && l > 0 {
		if uint64(len(payload)) >= uint64(size)+l {
			add(payload[size:uint64(size)+l], size, int(uint64(size)+l))
		}
	}

	return views
}
