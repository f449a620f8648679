package profile_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sona-app/sona/internal/profile"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()

	t.Run("GetCreatesDefaults", func(t *testing.T) {
		s := profile.NewMemStore()
		p, err := s.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !p.TTSEnabled || p.Language != "en-US" {
			t.Errorf("defaults = %+v", p)
		}
	})

	t.Run("UpdateMergesSetFields", func(t *testing.T) {
		s := profile.NewMemStore()
		name := "Sam"
		if _, err := s.Update(ctx, "u1", profile.Patch{Name: &name}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		off := false
		p, err := s.Update(ctx, "u1", profile.Patch{TTSEnabled: &off})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if p.Name != "Sam" {
			t.Errorf("name = %q, want earlier patch preserved", p.Name)
		}
		if p.TTSEnabled {
			t.Error("TTSEnabled still true")
		}
	})

	t.Run("AppendHistoryTrims", func(t *testing.T) {
		s := profile.NewMemStore()
		for i := 0; i < profile.MaxHistoryEntries+10; i++ {
			if _, err := s.AppendHistory(ctx, "u1", fmt.Sprintf("line %d", i)); err != nil {
				t.Fatalf("AppendHistory: %v", err)
			}
		}
		p, err := s.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(p.ConversationHistory) != profile.MaxHistoryEntries {
			t.Fatalf("history len = %d, want %d", len(p.ConversationHistory), profile.MaxHistoryEntries)
		}
		if p.ConversationHistory[0] != "line 10" {
			t.Errorf("oldest entry = %q, want line 10", p.ConversationHistory[0])
		}
	})

	t.Run("ConcurrentAppendsLoseNothing", func(t *testing.T) {
		s := profile.NewMemStore()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.AppendHistory(ctx, "u1", fmt.Sprintf("entry %d", i)); err != nil {
					t.Errorf("AppendHistory: %v", err)
				}
			}()
		}
		wg.Wait()
		p, err := s.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(p.ConversationHistory) != 50 {
			t.Errorf("history len = %d, want 50", len(p.ConversationHistory))
		}
	})

	t.Run("ReturnedProfileIsACopy", func(t *testing.T) {
		s := profile.NewMemStore()
		p1, _ := s.Get(ctx, "u1")
		p1.Name = "mutated"
		p1.ConversationHistory = append(p1.ConversationHistory, "injected")
		p2, _ := s.Get(ctx, "u1")
		if p2.Name == "mutated" || len(p2.ConversationHistory) != 0 {
			t.Errorf("stored profile mutated through returned copy: %+v", p2)
		}
	})
}
