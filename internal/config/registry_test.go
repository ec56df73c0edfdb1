package config_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/voxlead-ai/voxlead/internal/config"
	"github.com/voxlead-ai/voxlead/pkg/provider"
	"github.com/voxlead-ai/voxlead/pkg/provider/mock"
)

func TestRegistry_RegisterAndCreate(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.Register("mock", func(entry config.ProviderEntry) (provider.Provider, error) {
		return &mock.Provider{ProviderName: entry.Name}, nil
	})

	p, err := reg.Create(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Name() != "mock" {
		t.Errorf("Name() = %q, want %q", p.Name(), "mock")
	}
}

func TestRegistry_CreateUnregistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.Create(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("Create() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.Register("mock", func(config.ProviderEntry) (provider.Provider, error) {
		return &mock.Provider{ProviderName: "first"}, nil
	})
	reg.Register("mock", func(config.ProviderEntry) (provider.Provider, error) {
		return &mock.Provider{ProviderName: "second"}, nil
	})

	p, err := reg.Create(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Name() != "second" {
		t.Errorf("Name() = %q, want the later registration", p.Name())
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, name := range []string{"realtime", "mock", "ollama"} {
		reg.Register(name, func(config.ProviderEntry) (provider.Provider, error) {
			return &mock.Provider{}, nil
		})
	}

	want := []string{"mock", "ollama", "realtime"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
