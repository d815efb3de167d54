package realtime

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any arrival sequence of seq numbers (with replays, duplicates and
// reordering across reconnects), subscribers observe exactly the running
// maxima: strictly increasing, each seq at most once.
func TestRouterOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("delivered seqs are the strictly increasing running maxima", prop.ForAll(
		func(seqs []int64, window int) bool {
			r := NewRouter(RouterConfig{Window: window, LogSize: len(seqs) + 1}, quiet(), nil)
			sub := r.Subscribe(nil)

			var want []int64
			var max int64
			for i, s := range seqs {
				if s > max {
					want = append(want, s)
					max = s
				}
				r.Publish(seqEvent("new_order", s, 1, uint64(i/5+1)))
			}
			r.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			var got []int64
			for ev := range sub.All(ctx) {
				got = append(got, ev.Seq)
			}
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(1, 40)),
		gen.IntRange(1, 64),
	))

	properties.Property("duplicate replays never reach a subscriber twice", prop.ForAll(
		func(ids []int) bool {
			r := NewRouter(RouterConfig{Window: 128, LogSize: 2*len(ids) + 1}, quiet(), nil)
			sub := r.Subscribe(nil)

			seen := make(map[int]bool)
			var want []int
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					want = append(want, id)
				}
			}
			// Deliver the whole sequence twice, as a reconnect that replays everything would.
			for range 2 {
				for _, id := range ids {
					ev := seqEvent("new_message", 0, 1, 1)
					ev.Identity = Identity("new_message", 0, "", []byte(`{"id":`+strconv.Itoa(id)+`}`))
					ev.Payload = []byte(`{"id":` + strconv.Itoa(id) + `}`)
					r.Publish(ev)
				}
			}
			r.Close()

			var got []string
			for ev := range sub.All(context.Background()) {
				got = append(got, string(ev.Payload))
			}
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != `{"id":`+strconv.Itoa(want[i])+`}` {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
