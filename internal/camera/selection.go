package camera

// SelectBuiltin は候補から内蔵カメラと思われるものを選ぶ
//
// OSごとの経験則で、確実ではない:
//   - macOS は index 1 が内蔵カメラであることが多い
//   - Windows と Linux は index 0 を優先する
//   - 該当しなければ解像度（幅×高さ）が最大のもの。同じなら先に見つかった方
func SelectBuiltin(candidates []Candidate, os OS) (int, bool) {
	working := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Works {
			working = append(working, c)
		}
	}

	switch len(working) {
	case 0:
		return 0, false
	case 1:
		return working[0].Index, true
	}

	preferred := 0
	if os == OSMac {
		preferred = 1
	}
	for _, c := range working {
		if c.Index == preferred {
			return c.Index, true
		}
	}

	best := working[0]
	for _, c := range working[1:] {
		if c.Area() > best.Area() {
			best = c
		}
	}
	return best.Index, true
}
