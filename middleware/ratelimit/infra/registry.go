package infra

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
)

const (
	// ClassLight é o perfil de alto orçamento para operações baratas.
	ClassLight domain.ClassName = "light"
	// ClassAI é o perfil de baixo orçamento para chamadas ao provedor de IA.
	ClassAI domain.ClassName = "ai"
	// ClassGeneral é o perfil genérico, usado também como fallback.
	ClassGeneral domain.ClassName = "general"
)

// Registry é o conjunto fixo de classes de cota.
//
// Não existe API de alteração: mudar cotas é mudança de configuração no deploy.
type Registry struct {
	classes  map[domain.ClassName]domain.LimitClass
	fallback domain.ClassName
}

// NewRegistry valida e copia as classes. fallback precisa existir em classes;
// ele é usado quando alguém pede uma classe desconhecida.
func NewRegistry(classes map[domain.ClassName]domain.LimitClass, fallback domain.ClassName) (*Registry, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: registry needs at least one class", domain.ErrInvalidClass)
	}

	copied := make(map[domain.ClassName]domain.LimitClass, len(classes))
	for name, c := range classes {
		if strings.TrimSpace(string(name)) == "" {
			return nil, fmt.Errorf("%w: empty class name", domain.ErrInvalidClass)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		copied[name] = c
	}
	if _, ok := copied[fallback]; !ok {
		return nil, fmt.Errorf("%w: fallback %q", domain.ErrUnknownClass, fallback)
	}

	return &Registry{classes: copied, fallback: fallback}, nil
}

// DefaultClasses devolve os perfis padrão (cópia nova a cada chamada).
func DefaultClasses() map[domain.ClassName]domain.LimitClass {
	return map[domain.ClassName]domain.LimitClass{
		ClassLight:   {MaxTokens: 120, RefillRate: 120, Window: time.Minute},
		ClassAI:      {MaxTokens: 10, RefillRate: 10, Window: time.Minute},
		ClassGeneral: {MaxTokens: 60, RefillRate: 60, Window: time.Minute},
	}
}

func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultClasses(), ClassGeneral)
	if err != nil {
		// os perfis padrão são constantes; só quebra se alguém editar errado.
		panic(err)
	}
	return r
}

func (r *Registry) Lookup(name domain.ClassName) (domain.LimitClass, bool) {
	c, ok := r.classes[name]
	return c, ok
}

// Resolve nunca falha: classe desconhecida cai no fallback.
func (r *Registry) Resolve(name domain.ClassName) (domain.ClassName, domain.LimitClass) {
	if c, ok := r.classes[name]; ok {
		return name, c
	}
	return r.fallback, r.classes[r.fallback]
}

func (r *Registry) Fallback() domain.ClassName { return r.fallback }

func (r *Registry) Names() []domain.ClassName {
	names := make([]domain.ClassName, 0, len(r.classes))
	for n := range r.classes {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ParseClasses lê o formato NAME:MAX_TOKENS:REFILL_RATE:WINDOW separado por vírgula,
// ex: "ai:10:10:1m,general:60:60:1m". WINDOW usa a sintaxe de time.ParseDuration.
func ParseClasses(raw string) (map[domain.ClassName]domain.LimitClass, error) {
	out := make(map[domain.ClassName]domain.LimitClass)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("limit class must follow NAME:MAX_TOKENS:REFILL_RATE:WINDOW: %q", item)
		}

		name := domain.ClassName(strings.TrimSpace(parts[0]))
		maxTokens, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid max tokens for class %s: %w", name, err)
		}
		refill, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid refill rate for class %s: %w", name, err)
		}
		window, err := time.ParseDuration(strings.TrimSpace(parts[3]))
		if err != nil {
			return nil, fmt.Errorf("invalid window for class %s: %w", name, err)
		}

		c := domain.LimitClass{MaxTokens: maxTokens, RefillRate: refill, Window: window}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicated limit class %s", name)
		}
		out[name] = c
	}
	return out, nil
}
