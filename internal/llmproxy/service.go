package llmproxy

import (
	"context"
	"fmt"
)

// Service routes translations to a named provider. The first provider
// passed to NewService is the default.
type Service struct {
	proxies     map[string]*Proxy
	order       []string
	defaultName string
}

func NewService(proxies ...*Proxy) *Service {
	s := &Service{proxies: make(map[string]*Proxy)}
	for _, p := range proxies {
		if p == nil {
			continue
		}
		if s.defaultName == "" {
			s.defaultName = p.Name()
		}
		if _, ok := s.proxies[p.Name()]; !ok {
			s.order = append(s.order, p.Name())
		}
		s.proxies[p.Name()] = p
	}
	return s
}

// Providers lists the configured provider names in registration order.
func (s *Service) Providers() []string {
	return append([]string(nil), s.order...)
}

func (s *Service) Translate(ctx context.Context, params TranslateParams) (string, error) {
	name := params.Provider
	if name == "" {
		name = s.defaultName
	}
	p, ok := s.proxies[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p.Translate(ctx, params)
}
