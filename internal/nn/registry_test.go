package nn

import (
	"errors"
	"testing"
)

func identity(x float64) float64 { return x }

func one(float64) float64 { return 1 }

func TestRegisterAndGetActivation(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	err := RegisterActivation(Activation{
		Name:       "quad",
		Func:       func(x float64) float64 { return x * x },
		Derivative: func(x float64) float64 { return 2 * x },
	})
	if err != nil {
		t.Fatalf("register activation: %v", err)
	}
	activation, err := GetActivation("quad")
	if err != nil {
		t.Fatalf("get activation: %v", err)
	}
	if got := activation.Func(3); got != 9 {
		t.Fatalf("unexpected activation result: got=%f want=9", got)
	}
	if got := activation.Derivative(3); got != 6 {
		t.Fatalf("unexpected derivative result: got=%f want=6", got)
	}
}

func TestRegisterActivationValidation(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation(Activation{Func: identity, Derivative: one}); err == nil {
		t.Fatal("expected empty name error")
	}
	if err := RegisterActivation(Activation{Name: "nil", Derivative: one}); err == nil {
		t.Fatal("expected nil function error")
	}
	if err := RegisterActivation(Activation{Name: "noderiv", Func: identity}); err == nil {
		t.Fatal("expected nil derivative error")
	}
}

func TestRegisterActivationDuplicate(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation(Activation{Name: "dup", Func: identity, Derivative: one}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterActivation(Activation{Name: "dup", Func: identity, Derivative: one}); !errors.Is(err, ErrActivationExists) {
		t.Fatalf("expected ErrActivationExists, got: %v", err)
	}
}

func TestGetActivationNotFound(t *testing.T) {
	_, err := GetActivation("missing")
	if !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got: %v", err)
	}
}

func TestListActivationsSorted(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation(Activation{Name: "b", Func: identity, Derivative: one}); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := RegisterActivation(Activation{Name: "a", Func: identity, Derivative: one}); err != nil {
		t.Fatalf("register a: %v", err)
	}

	names := ListActivations()
	if len(names) < 8 {
		t.Fatalf("expected built-ins plus custom activations, got: %+v", names)
	}
	if names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected activation list: %+v", names)
	}
}
