package topology

import (
	"sort"

	"github.com/restypanel/restywatch/internal/statusfeed"
	"github.com/restypanel/restywatch/pkg/types"
)

// CanonicalAddress returns the comparison key of a configured server entry.
// Status-feed addresses are canonicalized by the parser with the same rules.
func CanonicalAddress(e types.ServerEntry) string {
	return e.Address()
}

// Reconcile builds the ServerViews of one upstream. The output is fully
// determined by its inputs: configured servers first in config order, then
// feed-only servers sorted by address. Each canonical address appears once.
func Reconcile(cfg types.UpstreamConfig, status statusfeed.Snapshot) []types.ServerView {
	peers := status.Peers(cfg.Name)
	noChecker := status.NoChecker[cfg.Name]

	views := make([]types.ServerView, 0, len(cfg.Servers)+len(peers))
	seen := make(map[string]bool, len(cfg.Servers))

	for _, s := range cfg.Servers {
		addr := CanonicalAddress(s)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true

		v := types.ServerView{
			Address: addr,
			Weight:  s.Weight,
			Enabled: s.Enabled(),
			Origin:  types.OriginStatic,
			Health:  types.HealthUnknown,
		}
		if p, ok := peers[addr]; ok {
			v.RawStatus = p.Status
			v.Section = string(p.Section)
			if !noChecker {
				v.Health = types.HealthFromStatus(p.Status)
			}
		}
		views = append(views, v)
	}

	dynamic := make([]string, 0)
	for addr := range peers {
		if !seen[addr] {
			dynamic = append(dynamic, addr)
		}
	}
	sort.Strings(dynamic)

	for _, addr := range dynamic {
		p := peers[addr]
		views = append(views, types.ServerView{
			Address:   addr,
			Enabled:   true,
			Origin:    types.OriginDynamic,
			Health:    types.HealthFromStatus(p.Status),
			RawStatus: p.Status,
			Section:   string(p.Section),
		})
	}
	return views
}
