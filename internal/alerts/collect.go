package alerts

import (
	"github.com/restypanel/restywatch/internal/monitor"
	"github.com/restypanel/restywatch/internal/rates"
	"github.com/restypanel/restywatch/internal/scheduler"
	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/pkg/types"
)

// Source is the read side of the engine that Collect needs.
type Source interface {
	Summary() rates.Summary
	WindowInfo() (length, capacity int)
	Upstreams() []*topology.Entry
	LastTick(channel string) (monitor.Tick, bool)
}

// Collect builds an Input from src. Gateway-wide fields are included once
// the window holds a sample; server fields once a topology poll succeeded.
func Collect(src Source) Input {
	var in Input
	if n, _ := src.WindowInfo(); n > 0 {
		s := src.Summary()
		in.Summary = &s
	}
	if t, ok := src.LastTick(scheduler.ChannelTopology); ok && t.OK() {
		in.Upstreams = make(map[string][]types.ServerView)
		for _, e := range src.Upstreams() {
			in.Upstreams[e.Config.Name] = e.Views
		}
	}
	return in
}
