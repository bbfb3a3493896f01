package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/aulavoz/voicetutor/internal/config"
	"github.com/aulavoz/voicetutor/pkg/audio"
	audiomock "github.com/aulavoz/voicetutor/pkg/audio/mock"
	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	llmmock "github.com/aulavoz/voicetutor/pkg/provider/llm/mock"
	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	sttmock "github.com/aulavoz/voicetutor/pkg/provider/stt/mock"
)

func TestRegistry_CreateSTT(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Provider, error) {
		got = e
		return &sttmock.Provider{}, nil
	})

	p, err := reg.CreateSTT(config.ProviderEntry{Name: "mock", Model: "tiny"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p == nil {
		t.Fatal("provider is nil")
	}
	if got.Model != "tiny" {
		t.Errorf("factory saw Model %q, want tiny", got.Model)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	errKey := errors.New("missing api key")
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return nil, errKey })

	_, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"})
	if !errors.Is(err, errKey) {
		t.Fatalf("err = %v, want wrapped factory error", err)
	}
	if errors.Is(err, config.ErrProviderNotRegistered) {
		t.Error("factory error must not look like a missing registration")
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterLLM("anthropic", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.Platform, error) { return &audiomock.Platform{}, nil })

	if got := reg.Names("llm"); !slices.Equal(got, []string{"anthropic", "openai"}) {
		t.Errorf("Names(llm) = %v", got)
	}
	if got := reg.Names("audio"); !slices.Equal(got, []string{"mock"}) {
		t.Errorf("Names(audio) = %v", got)
	}
	if got := reg.Names("tts"); len(got) != 0 {
		t.Errorf("Names(tts) = %v, want empty", got)
	}

	if _, err := reg.CreateAudio(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateAudio: %v", err)
	}
}
