package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

type ActivationFunc func(x float64) float64

// Activation pairs a transfer function with its derivative. The derivative is
// expressed in terms of the pre-activation input x.
type Activation struct {
	Name       string
	Func       ActivationFunc
	Derivative ActivationFunc
}

var activationRegistry = struct {
	mu sync.RWMutex
	m  map[string]Activation
}{
	m: make(map[string]Activation),
}

func init() {
	initializeBuiltInActivations()
}

func initializeBuiltInActivations() {
	for _, name := range []string{"identity", "relu", "tanh", "sigmoid", "sin", "gaussian"} {
		name := name // per-iteration copy: go.mod targets go1.21 loop semantics
		fn := builtinFunc(name)
		MustRegisterActivation(Activation{
			Name: name,
			Func: fn,
			Derivative: func(x float64) float64 {
				d, _ := Derivative(name, x)
				return d
			},
		})
	}
}

func builtinFunc(name string) ActivationFunc {
	switch name {
	case "relu":
		return func(x float64) float64 {
			if x < 0 {
				return 0
			}
			return x
		}
	case "tanh":
		return math.Tanh
	case "sigmoid":
		return func(x float64) float64 {
			return 1.0 / (1.0 + math.Exp(-x))
		}
	case "sin":
		return math.Sin
	case "gaussian":
		return func(x float64) float64 {
			return math.Exp(-(x * x))
		}
	default:
		return func(x float64) float64 { return x }
	}
}

func RegisterActivation(activation Activation) error {
	if activation.Name == "" {
		return errors.New("activation name is required")
	}
	if activation.Func == nil {
		return errors.New("activation function is required")
	}
	if activation.Derivative == nil {
		return errors.New("activation derivative is required")
	}

	activationRegistry.mu.Lock()
	defer activationRegistry.mu.Unlock()

	if _, exists := activationRegistry.m[activation.Name]; exists {
		return fmt.Errorf("%w: %s", ErrActivationExists, activation.Name)
	}
	activationRegistry.m[activation.Name] = activation
	return nil
}

func MustRegisterActivation(activation Activation) {
	if err := RegisterActivation(activation); err != nil {
		panic(err)
	}
}

func GetActivation(name string) (Activation, error) {
	activationRegistry.mu.RLock()
	entry, ok := activationRegistry.m[name]
	activationRegistry.mu.RUnlock()
	if !ok {
		return Activation{}, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return entry, nil
}

func ListActivations() []string {
	activationRegistry.mu.RLock()
	defer activationRegistry.mu.RUnlock()

	names := make([]string, 0, len(activationRegistry.m))
	for name := range activationRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetActivationRegistryForTests() {
	activationRegistry.mu.Lock()
	activationRegistry.m = make(map[string]Activation)
	activationRegistry.mu.Unlock()
	initializeBuiltInActivations()
}
