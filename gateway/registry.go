package gateway

import (
	"fmt"
	"time"

	"paygate/entity"
	"paygate/pkg/payerr"
	"paygate/pkg/signature"

	"github.com/rs/zerolog"
)

// Providers is the gateway part of the service configuration.
type Providers struct {
	VNPay   VNPayConfig
	MoMo    MoMoConfig
	ZaloPay ZaloPayConfig
	Timeout time.Duration
}

type Registry struct {
	adapters map[entity.PaymentMethod]Adapter
	order    []entity.PaymentMethod
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[entity.PaymentMethod]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Method()]; !dup {
			r.order = append(r.order, a.Method())
		}
		r.adapters[a.Method()] = a
	}
	return r
}

// Get returns ErrUnsupportedMethod for methods that are unknown or not
// configured.
func (r *Registry) Get(m entity.PaymentMethod) (Adapter, error) {
	a, ok := r.adapters[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payerr.ErrUnsupportedMethod, m)
	}
	return a, nil
}

func (r *Registry) Methods() []entity.PaymentMethod {
	out := make([]entity.PaymentMethod, len(r.order))
	copy(out, r.order)
	return out
}

// EngineKeys collects the signing keys of every configured provider.
func (p Providers) EngineKeys() map[signature.Provider]signature.Keys {
	keys := map[signature.Provider]signature.Keys{}
	if p.VNPay.HashSecret != "" {
		keys[signature.VNPay] = signature.Keys{Primary: p.VNPay.HashSecret}
	}
	if p.MoMo.SecretKey != "" {
		keys[signature.MoMo] = signature.Keys{Primary: p.MoMo.SecretKey, AccessKey: p.MoMo.AccessKey}
	}
	if p.ZaloPay.Key1 != "" {
		keys[signature.ZaloPay] = signature.Keys{Primary: p.ZaloPay.Key1, Secondary: p.ZaloPay.Key2, AppID: p.ZaloPay.AppID}
	}
	return keys
}

// NewRegistryFromConfig registers every provider with credentials plus COD.
// Providers without credentials are left out and resolve to
// ErrUnsupportedMethod.
func NewRegistryFromConfig(p Providers, logger zerolog.Logger) *Registry {
	engine := signature.NewEngine(p.EngineKeys())
	client := NewClient(p.Timeout)

	adapters := []Adapter{}
	if p.VNPay.TmnCode != "" && p.VNPay.HashSecret != "" {
		adapters = append(adapters, NewVNPay(p.VNPay, engine, client, logger))
	} else {
		logger.Warn().Msg("vnpay not configured")
	}
	if p.MoMo.PartnerCode != "" && p.MoMo.SecretKey != "" {
		adapters = append(adapters, NewMoMo(p.MoMo, engine, client, logger))
	} else {
		logger.Warn().Msg("momo not configured")
	}
	if p.ZaloPay.AppID != "" && p.ZaloPay.Key1 != "" && p.ZaloPay.Key2 != "" {
		adapters = append(adapters, NewZaloPay(p.ZaloPay, engine, client, logger))
	} else {
		logger.Warn().Msg("zalopay not configured")
	}
	adapters = append(adapters, NewCOD())
	return NewRegistry(adapters...)
}
