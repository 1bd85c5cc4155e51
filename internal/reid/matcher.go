package reid

// matchResult is the matcher's verdict: either a winning track's global ID
// and score, or a nil globalID with the best score seen (possibly 0) when
// nothing cleared the threshold.
type matchResult struct {
	globalID string
	score    float32
	matched  bool
}

// findBestMatch implements C3. It scans every live track in tracks for a
// candidate satisfying the predicate (different camera, not stale), scores
// each over its last cfg.RecentK embeddings, and returns the argmax above
// cfg.ReIDThreshold. It must not mutate any track.
//
// tracks and order must reflect a consistent point-in-time view; the caller
// holds at least a read lock for the duration of this call.
func findBestMatch(det Detection, tracks map[string]*GlobalTrack, order []string, now float64, cfg Config) matchResult {
	var (
		bestID    string
		bestScore float32 = -1
		bestSeen  float64
		found     bool
	)

	for _, id := range order {
		track := tracks[id]
		if track == nil {
			continue
		}
		if _, sameCamera := track.CamerasSeen[det.CameraID]; sameCamera {
			continue
		}
		if now-track.LastSeen > cfg.TrackTimeout {
			continue
		}

		if track.EmbeddingMemory.len() == 0 {
			continue
		}
		score := scoreTrack(det.Embedding, track, cfg)

		better := score > bestScore
		tie := score == bestScore
		if tie && found {
			// Deterministic tie-break: prefer more recent last_seen,
			// then smaller global_id lexicographically.
			if track.LastSeen > bestSeen {
				better = true
			} else if track.LastSeen == bestSeen && track.GlobalID < bestID {
				better = true
			}
		}

		if better {
			bestID = track.GlobalID
			bestScore = score
			bestSeen = track.LastSeen
			found = true
		}
	}

	if !found {
		return matchResult{score: 0}
	}
	if bestScore > cfg.ReIDThreshold {
		return matchResult{globalID: bestID, score: bestScore, matched: true}
	}
	return matchResult{score: bestScore}
}

// scoreTrack computes 0.7*smax + 0.3*savg (weights from cfg) over the last
// cfg.RecentK embeddings in the track's memory. A track with empty memory
// scores 0.
func scoreTrack(embedding []float32, track *GlobalTrack, cfg Config) float32 {
	recent := track.EmbeddingMemory.last(cfg.RecentK)
	if len(recent) == 0 {
		return 0
	}

	var (
		smax float32
		sum  float32
	)
	for i, e := range recent {
		s := cosineSimilarity(embedding, e)
		if i == 0 || s > smax {
			smax = s
		}
		sum += s
	}
	savg := sum / float32(len(recent))

	return cfg.ScoreWeightMax*smax + cfg.ScoreWeightAvg*savg
}
