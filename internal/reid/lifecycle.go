package reid

// gc implements C4. It evicts every track whose last_seen is older than
// track_timeout as of now, removes it from the track table, and prunes the
// camera->local->global index of entries pointing at it. Callers must hold
// the writer lock.
func (m *Manager) gc(now float64) {
	var evicted []string
	for id, track := range m.tracks {
		if now-track.LastSeen > m.cfg.TrackTimeout {
			evicted = append(evicted, id)
		}
	}
	if len(evicted) == 0 {
		return
	}

	dead := make(map[string]struct{}, len(evicted))
	for _, id := range evicted {
		delete(m.tracks, id)
		dead[id] = struct{}{}
		m.order = removeFromOrder(m.order, id)
		m.counters.incTracksTimeout()
	}

	for cameraID, locals := range m.index {
		for localID, globalID := range locals {
			if _, isDead := dead[globalID]; isDead {
				delete(locals, localID)
			}
		}
		if len(locals) == 0 {
			delete(m.index, cameraID)
		}
	}
}

func removeFromOrder(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
