package analyzer

import (
	"sort"
	"time"

	"github.com/lumenwatch/agentdetect/recorder"
	"github.com/lumenwatch/agentdetect/types"
)

type actionKind string

const (
	actionClick     actionKind = "click"
	actionKeystroke actionKind = "keystroke"
	actionFocus     actionKind = "focus"
)

type action struct {
	t    time.Time
	kind actionKind
}

const burstWindow = 2 * time.Second
const quiescentGap = 3 * time.Second

func collectActions(state recorder.State) []action {
	var acts []action
	for _, c := range state.Clicks {
		acts = append(acts, action{c.Timestamp, actionClick})
	}
	for _, k := range state.Keystrokes {
		acts = append(acts, action{k.Timestamp, actionKeystroke})
	}
	for _, f := range state.FocusChanges {
		acts = append(acts, action{f.Timestamp, actionFocus})
	}
	sort.Slice(acts, func(i, j int) bool { return acts[i].t.Before(acts[j].t) })
	return acts
}

// burstClusters returns, for every maximal run of overlapping qualifying
// 2-second windows, the index (into acts) of the first action in that
// cluster.
func burstClusters(acts []action) []int {
	var qualifying []int
	for i := range acts {
		end := acts[i].t.Add(burstWindow)
		kinds := map[actionKind]bool{}
		count := 0
		for j := i; j < len(acts) && !acts[j].t.After(end); j++ {
			count++
			kinds[acts[j].kind] = true
		}
		if count >= 5 && len(kinds) >= 2 {
			qualifying = append(qualifying, i)
		}
	}
	if len(qualifying) == 0 {
		return nil
	}

	var clusters []int
	clusters = append(clusters, qualifying[0])
	for k := 1; k < len(qualifying); k++ {
		// A new cluster starts once the qualifying anchor is more than one
		// burst window past the previous cluster's anchor.
		if acts[qualifying[k]].t.Sub(acts[clusters[len(clusters)-1]].t) > burstWindow {
			clusters = append(clusters, qualifying[k])
		}
	}
	return clusters
}

func burstSignals(state recorder.State) []types.AnomalySignal {
	acts := collectActions(state)
	var sigs []types.AnomalySignal
	if len(acts) == 0 {
		return sigs
	}

	clusters := burstClusters(acts)
	if len(clusters) >= 2 {
		sigs = append(sigs, types.AnomalySignal{Name: "comet.action_burst", Value: float64(len(clusters)), Weight: 8})
	}

	for _, idx := range clusters {
		if idx == 0 {
			continue
		}
		gap := acts[idx].t.Sub(acts[idx-1].t)
		if gap >= quiescentGap {
			sigs = append(sigs, types.AnomalySignal{Name: "comet.read_then_act", Value: gap.Seconds(), Weight: 9})
			break
		}
	}

	return sigs
}
