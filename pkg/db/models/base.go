package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IDs are assigned in Go so the schema does not depend on database-specific generators.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (o *Owner) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}

func (d *Discount) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

func (m *PaymentMethod) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

func (p *PaymentProvider) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

func (l *OperationLog) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
