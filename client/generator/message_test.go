package generator

import (
	"strings"
	"testing"

	"supportchat/client/model"
)

func drain(g *Generator) []model.Message {
	go g.Run()
	var out []model.Message
	for msg := range g.Output {
		out = append(out, msg)
	}
	return out
}

func TestGeneratorEmitsUserTraffic(t *testing.T) {
	g := NewGenerator(Options{TotalMessages: 200, BufferSize: 10, Users: 5, Seed: 7})
	msgs := drain(g)

	if len(msgs) != 200 {
		t.Fatalf("expected 200 messages, got %d", len(msgs))
	}
	texts := make(map[string]struct{})
	for _, msg := range msgs {
		if msg.Kind != model.KindUser || msg.TargetUserID != "" {
			t.Fatalf("without admins every message is from a user: %+v", msg)
		}
		if !strings.HasPrefix(msg.SenderID, "load-"+g.RunID+"-") {
			t.Fatalf("unexpected sender %q", msg.SenderID)
		}
		texts[msg.Text] = struct{}{}
	}
	if len(texts) != len(msgs) {
		t.Fatal("message texts should be unique within a run")
	}
}

func TestGeneratorAdminRepliesTargetKnownUsers(t *testing.T) {
	g := NewGenerator(Options{TotalMessages: 500, Users: 20, AdminIDs: []string{"a1", "a2"}, AdminRatio: 0.5, Seed: 42})
	msgs := drain(g)

	seen := make(map[string]bool)
	admins := 0
	for _, msg := range msgs {
		switch msg.Kind {
		case model.KindUser:
			seen[msg.SenderID] = true
		case model.KindAdmin:
			admins++
			if !seen[msg.TargetUserID] {
				t.Fatalf("admin reply to a user who has not written: %+v", msg)
			}
			if msg.OwnerID() != msg.TargetUserID || msg.Envelope().TargetUserID != msg.TargetUserID {
				t.Fatalf("admin reply should address its target: %+v", msg)
			}
		}
	}
	if admins == 0 || admins == len(msgs) {
		t.Fatalf("expected a mix of senders, got %d admin of %d", admins, len(msgs))
	}
}
