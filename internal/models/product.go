package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownProductKind = errors.New("unknown product kind")

// ProductKind discriminates the Specs payload carried by a Product.
type ProductKind string

const (
	KindGeneric ProductKind = "generic"
	KindPhone   ProductKind = "phone"
	KindLaptop  ProductKind = "laptop"
	KindTablet  ProductKind = "tablet"
	KindAudio   ProductKind = "audio"
)

// Specs is implemented by every kind-specific detail payload.
type Specs interface {
	Kind() ProductKind
}

type GenericSpecs struct{}

type PhoneSpecs struct {
	ScreenInches float64 `json:"screen_inches,omitempty"`
	StorageGB    int     `json:"storage_gb,omitempty"`
	RAMGB        int     `json:"ram_gb,omitempty"`
	Network      string  `json:"network,omitempty"`
}

type LaptopSpecs struct {
	Processor    string  `json:"processor,omitempty"`
	RAMGB        int     `json:"ram_gb,omitempty"`
	StorageGB    int     `json:"storage_gb,omitempty"`
	ScreenInches float64 `json:"screen_inches,omitempty"`
}

type TabletSpecs struct {
	ScreenInches float64 `json:"screen_inches,omitempty"`
	StorageGB    int     `json:"storage_gb,omitempty"`
	Cellular     bool    `json:"cellular,omitempty"`
}

type AudioSpecs struct {
	Wireless          bool `json:"wireless,omitempty"`
	NoiseCancellation bool `json:"noise_cancellation,omitempty"`
	BatteryHours      int  `json:"battery_hours,omitempty"`
}

func (GenericSpecs) Kind() ProductKind { return KindGeneric }
func (PhoneSpecs) Kind() ProductKind   { return KindPhone }
func (LaptopSpecs) Kind() ProductKind  { return KindLaptop }
func (TabletSpecs) Kind() ProductKind  { return KindTablet }
func (AudioSpecs) Kind() ProductKind   { return KindAudio }

// DecodeSpecs unmarshals raw into the payload type selected by kind.
func DecodeSpecs(kind ProductKind, raw []byte) (Specs, error) {
	switch kind {
	case KindGeneric, "":
		return GenericSpecs{}, nil
	case KindPhone:
		var s PhoneSpecs
		if err := json.Unmarshal(orEmpty(raw), &s); err != nil {
			return nil, err
		}
		return s, nil
	case KindLaptop:
		var s LaptopSpecs
		if err := json.Unmarshal(orEmpty(raw), &s); err != nil {
			return nil, err
		}
		return s, nil
	case KindTablet:
		var s TabletSpecs
		if err := json.Unmarshal(orEmpty(raw), &s); err != nil {
			return nil, err
		}
		return s, nil
	case KindAudio:
		var s AudioSpecs
		if err := json.Unmarshal(orEmpty(raw), &s); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProductKind, kind)
}

func orEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

type Variation struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
}

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       ProductKind     `json:"kind"`
	Price      decimal.Decimal `json:"price"`
	Specs      Specs           `json:"-"`
	Variations []Variation     `json:"variations,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Variation looks up a variation by name.
func (p *Product) Variation(name string) (Variation, bool) {
	for _, v := range p.Variations {
		if v.Name == name {
			return v, true
		}
	}
	return Variation{}, false
}

type productJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       ProductKind     `json:"kind"`
	Price      decimal.Decimal `json:"price"`
	Specs      json.RawMessage `json:"specs,omitempty"`
	Variations []Variation     `json:"variations,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (p Product) MarshalJSON() ([]byte, error) {
	out := productJSON{
		ID:         p.ID,
		Name:       p.Name,
		Kind:       p.Kind,
		Price:      p.Price,
		Variations: p.Variations,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	if out.Kind == "" {
		out.Kind = KindGeneric
	}
	if p.Specs != nil {
		raw, err := json.Marshal(p.Specs)
		if err != nil {
			return nil, err
		}
		out.Specs = raw
	}
	return json.Marshal(out)
}

func (p *Product) UnmarshalJSON(data []byte) error {
	var in productJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	specs, err := DecodeSpecs(in.Kind, in.Specs)
	if err != nil {
		return err
	}
	*p = Product{
		ID:         in.ID,
		Name:       in.Name,
		Kind:       specs.Kind(),
		Price:      in.Price,
		Specs:      specs,
		Variations: in.Variations,
		CreatedAt:  in.CreatedAt,
		UpdatedAt:  in.UpdatedAt,
	}
	return nil
}
