package dashboard

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/realtime"
	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

const previewChars = 80

// Describe renders one feed event as a single operator-facing line.
func Describe(ev realtime.InboundEvent) string {
	switch ev.Kind {
	case v1.TypeNewOrder:
		o, err := ev.Order()
		if err != nil {
			return "new order (unreadable payload)"
		}
		name := o.CustomerName
		if name == "" && o.Customer != nil {
			name = o.Customer.PhoneNumber
			if o.Customer.Name != nil {
				name = *o.Customer.Name
			}
		}
		if name == "" {
			name = "unknown customer"
		}
		return fmt.Sprintf("New order #%d from %s: KES %s", o.ID, name, o.TotalAmount)

	case v1.TypeNewMessage:
		m, err := ev.Message()
		if err != nil {
			return "new message (unreadable payload)"
		}
		return fmt.Sprintf("[conversation #%d] %s: %s", m.Conversation, m.Sender, preview(m.Content))

	case v1.KindEcho:
		var e v1.EchoMessage
		if err := json.Unmarshal(ev.Payload, &e); err == nil && e.Message != "" {
			return "server: " + preview(e.Message)
		}
		return "server echo"

	default:
		return "event " + ev.Kind
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewChars {
		return s
	}
	r := []rune(s)
	return string(r[:previewChars-1]) + "…"
}
