package generator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"supportchat/client/model"
)

var predefinedMessages = []string{
	"Hello, is anyone there?", "My order has not arrived", "I cannot log in",
	"How do I reset my password?", "The app crashes on start", "Thanks for the help",
	"Can I change my shipping address?", "Where is my invoice?", "Refund status please",
	"The payment failed twice", "Is there a discount code?", "I was charged twice",
	"Please cancel my subscription", "How long does delivery take?", "Good morning",
	"The tracking link is broken", "Can I talk to a human?", "Still waiting",
	"That fixed it", "One more question",
}

var predefinedReplies = []string{
	"Hi, how can I help?", "Let me check that for you", "Could you share your order number?",
	"I have escalated this", "A refund has been issued", "Please try again now",
	"Your address has been updated", "Anything else I can do?", "Thanks for waiting",
	"Closing this ticket now",
}

// Options shapes the generated traffic.
type Options struct {
	TotalMessages int
	BufferSize    int
	Users         int
	AdminIDs      []string
	// AdminRatio is the share of messages sent as admin replies, in [0,1].
	AdminRatio float64
	Seed       int64
}

type Generator struct {
	TotalMessages int
	Output        chan model.Message
	RunID         string
	opts          Options
	rnd           *rand.Rand
	active        []string
	seen          map[string]struct{}
}

func NewGenerator(opts Options) *Generator {
	if opts.Users <= 0 {
		opts.Users = 1
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Generator{
		TotalMessages: opts.TotalMessages,
		Output:        make(chan model.Message, opts.BufferSize),
		RunID:         uuid.NewString()[:8],
		opts:          opts,
		rnd:           rand.New(rand.NewSource(opts.Seed)),
		seen:          make(map[string]struct{}),
	}
}

// UserID names the n-th simulated user of this run.
func (g *Generator) UserID(n int) string {
	return fmt.Sprintf("load-%s-%d", g.RunID, n)
}

// Run emits TotalMessages messages and closes Output. Admin replies only
// target users who have already written, so every reply has a live thread.
func (g *Generator) Run() {
	defer close(g.Output)

	for i := 0; i < g.TotalMessages; i++ {
		var msg model.Message
		if len(g.opts.AdminIDs) > 0 && len(g.active) > 0 && g.rnd.Float64() < g.opts.AdminRatio {
			msg = model.Message{
				SenderID:     g.opts.AdminIDs[g.rnd.Intn(len(g.opts.AdminIDs))],
				Kind:         model.KindAdmin,
				Text:         predefinedReplies[g.rnd.Intn(len(predefinedReplies))],
				TargetUserID: g.active[g.rnd.Intn(len(g.active))],
			}
		} else {
			userID := g.UserID(g.rnd.Intn(g.opts.Users) + 1)
			g.remember(userID)
			msg = model.Message{
				SenderID: userID,
				Kind:     model.KindUser,
				Text:     predefinedMessages[g.rnd.Intn(len(predefinedMessages))],
			}
		}
		// The suffix lets the sender match its own echo among fan-out traffic.
		msg.Text = fmt.Sprintf("%s (#%d)", msg.Text, i+1)
		g.Output <- msg
	}
}

func (g *Generator) remember(userID string) {
	if _, ok := g.seen[userID]; ok {
		return
	}
	g.seen[userID] = struct{}{}
	g.active = append(g.active, userID)
}
