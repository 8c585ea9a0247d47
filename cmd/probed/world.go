package main

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// The demo world gives a fresh daemon something to inspect. It is advanced by
// the host tick, so every dump shows live values.

type Vec2 struct {
	X, Y float64
}

type Transform struct {
	Position Vec2
	Heading  float64
}

type Health struct {
	Current int
	Max     int
	regen   float64
}

func (Health) ComponentName() string { return "health" }

// Fraction is the remaining share of Max.
func (h *Health) Fraction() (float64, error) {
	if h.Max <= 0 {
		return 0, fmt.Errorf("max health is %d", h.Max)
	}
	return float64(h.Current) / float64(h.Max), nil
}

type Quality int

const (
	QualityTrash Quality = iota
	QualityPoor
	QualityStandard
	QualityPremium
)

func (q Quality) String() string {
	switch q {
	case QualityTrash:
		return "Trash"
	case QualityPoor:
		return "Poor"
	case QualityStandard:
		return "Standard"
	case QualityPremium:
		return "Premium"
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

type Item struct {
	ID       string
	Quantity int
	Quality  Quality
}

type Inventory struct {
	Cash  int
	Slots []Item
}

func (inv Inventory) ComponentName() string { return "inventory" }

type Player struct {
	Name      string
	Transform *Transform
	Health    *Health
	Inventory *Inventory
	Vehicle   *Vehicle
	Tags      map[string]string
	SpawnedAt time.Time
	events    chan string
}

func (p *Player) Components() []any {
	return []any{p.Transform, p.Health, p.Inventory}
}

type Vehicle struct {
	Model     string
	Transform *Transform
	Speed     float64
	Driver    *Player
}

func (v *Vehicle) Components() []any {
	return []any{v.Transform}
}

// World is stepped from the host tick. mu covers readers that run outside it.
type World struct {
	mu       sync.Mutex
	Frame    uint64
	Elapsed  time.Duration
	Players  []*Player
	Vehicles []*Vehicle
}

func newWorld(now time.Time) *World {
	van := &Vehicle{Model: "Veeper", Transform: &Transform{Position: Vec2{X: 10}}, Speed: 4}
	ada := &Player{
		Name:      "ada",
		Transform: &Transform{Position: Vec2{X: 1, Y: 2}},
		Health:    &Health{Current: 80, Max: 100, regen: 0.5},
		Inventory: &Inventory{Cash: 250, Slots: []Item{
			{ID: "ogkush", Quantity: 12, Quality: QualityStandard},
			{ID: "cuke", Quantity: 3, Quality: QualityPremium},
		}},
		Vehicle:   van,
		Tags:      map[string]string{"role": "dealer", "region": "northtown"},
		SpawnedAt: now,
		events:    make(chan string, 8),
	}
	van.Driver = ada
	bob := &Player{
		Name:      "bob",
		Transform: &Transform{Position: Vec2{X: -4, Y: 7}},
		Health:    &Health{Current: 100, Max: 100},
		Inventory: &Inventory{},
		SpawnedAt: now,
	}
	return &World{Players: []*Player{ada, bob}, Vehicles: []*Vehicle{van}}
}

// Step advances the world by dt.
func (w *World) Step(dt time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Frame++
	w.Elapsed += dt
	secs := dt.Seconds()
	for _, v := range w.Vehicles {
		v.Transform.Heading = math.Mod(v.Transform.Heading+secs*15, 360)
		rad := v.Transform.Heading * math.Pi / 180
		v.Transform.Position.X += math.Cos(rad) * v.Speed * secs
		v.Transform.Position.Y += math.Sin(rad) * v.Speed * secs
		if v.Driver != nil {
			v.Driver.Transform.Position = v.Transform.Position
		}
	}
	for _, p := range w.Players {
		if p.Health.Current < p.Health.Max && w.Frame%60 == 0 && p.Health.regen > 0 {
			p.Health.Current++
		}
	}
}

// objects names every inspectable object in the world.
func (w *World) objects() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := map[string]any{"World": w}
	for _, p := range w.Players {
		out[p.Name] = p
	}
	for _, v := range w.Vehicles {
		out[v.Model] = v
	}
	return out
}
