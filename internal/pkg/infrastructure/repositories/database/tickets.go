package database

import (
	"context"

	"gorm.io/gorm"
)

type TicketRepository interface {
	Create(ctx context.Context, ticket *Ticket) error
	GetByID(ctx context.Context, ticketID uint) (Ticket, error)
	Query(ctx context.Context, conditions ...ConditionFunc) ([]Ticket, error)
}

type ticketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(connect ConnectorFunc) (TicketRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	return &ticketRepository{
		db: impl,
	}, nil
}

func (t *ticketRepository) Create(ctx context.Context, ticket *Ticket) error {
	return t.db.WithContext(ctx).Omit("Device").Create(ticket).Error
}

func (t *ticketRepository) GetByID(ctx context.Context, ticketID uint) (Ticket, error) {
	ticket := Ticket{}

	err := t.db.WithContext(ctx).First(&ticket, ticketID).Error
	if err != nil {
		return Ticket{}, notFoundOr(err)
	}

	return ticket, nil
}

func (t *ticketRepository) Query(ctx context.Context, conditions ...ConditionFunc) ([]Ticket, error) {
	tickets := []Ticket{}

	query := newCondition(conditions...).apply(t.db.WithContext(ctx).Model(&Ticket{}), "created_at")

	err := query.Find(&tickets).Error
	if err != nil {
		return []Ticket{}, err
	}

	return tickets, nil
}
