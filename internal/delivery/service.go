// Package delivery реализует определение зоны доставки по адресу и расчёт стоимости.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/baganov/pizzanat-system/internal/model"
)

// ErrInvalidAmount возвращается при расчёте доставки для неположительной суммы заказа.
var ErrInvalidAmount = errors.New("order amount must be positive")

// ZoneStore описывает контракт доступа к зонам доставки.
type ZoneStore interface {
	// GetActiveZones возвращает активные зоны с правилами сопоставления,
	// упорядоченные по убыванию приоритета.
	GetActiveZones(ctx context.Context) ([]model.DeliveryZone, error)
}

// FallbackZone описывает стандартный тариф для адресов вне настроенных зон.
type FallbackZone struct {
	Enabled       bool
	BaseCost      int64
	FreeThreshold int64
}

// Service определяет зону доставки по адресу и рассчитывает её стоимость.
type Service struct {
	store    ZoneStore
	fallback FallbackZone
	logger   *zap.Logger
}

// NewService создаёт сервис расчёта доставки.
func NewService(store ZoneStore, fallback FallbackZone, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, fallback: fallback, logger: logger}
}

// CalculationResult содержит результат расчёта доставки для адреса.
// Создаётся заново при каждом вызове и не сохраняется.
type CalculationResult struct {
	Address           string
	DeliveryAvailable bool
	Reason            string
	ZoneName          string
	ZoneDescription   string
	DeliveryCost      int64
	BaseCost          int64
	FreeThreshold     *int64
	IsDeliveryFree    bool
	EstimatedTimeMin  int
	EstimatedTimeMax  int
	EstimatedTime     string
	Currency          string
	Message           string
}

// DetermineZone определяет зону доставки по свободному тексту адреса.
// Зоны проверяются в порядке убывания приоритета, первая подошедшая
// возвращается сразу. Отсутствие зоны — штатный результат, а не ошибка.
func (s *Service) DetermineZone(ctx context.Context, address string) (*model.DeliveryZone, error) {
	normalized := normalizeAddress(address)
	if normalized == "" {
		s.logger.Debug("empty address for zone determination")
		return nil, nil
	}

	zones, err := s.store.GetActiveZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active zones: %w", err)
	}

	for i := range zones {
		zone := &zones[i]
		if zoneMatches(normalized, zone) {
			s.logger.Debug("zone matched",
				zap.String("address", address),
				zap.String("zone", zone.Name),
				zap.Int("priority", zone.Priority),
			)
			return zone, nil
		}
		s.logger.Debug("zone did not match",
			zap.String("address", address),
			zap.String("zone", zone.Name),
		)
	}

	s.logger.Debug("no zone matched", zap.String("address", address))
	return nil, nil
}

// Calculate рассчитывает стоимость доставки для адреса и суммы заказа в копейках.
func (s *Service) Calculate(ctx context.Context, address string, orderAmount int64) (*CalculationResult, error) {
	if orderAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	zone, err := s.DetermineZone(ctx, address)
	if err != nil {
		return nil, err
	}

	if zone == nil {
		if !s.fallback.Enabled {
			return &CalculationResult{
				Address:           address,
				DeliveryAvailable: false,
				Reason:            "Адрес вне зоны доставки",
				Currency:          "RUB",
			}, nil
		}

		threshold := s.fallback.FreeThreshold
		fallback := model.DeliveryZone{
			Name:                  "Стандартная зона",
			Description:           "Доставка по городу (стандартный тариф)",
			BaseCost:              s.fallback.BaseCost,
			FreeDeliveryThreshold: &threshold,
			DeliveryTimeMin:       30,
			DeliveryTimeMax:       50,
		}
		return s.resultForZone(address, &fallback, orderAmount), nil
	}

	return s.resultForZone(address, zone, orderAmount), nil
}

func (s *Service) resultForZone(address string, zone *model.DeliveryZone, orderAmount int64) *CalculationResult {
	cost := zone.FinalDeliveryCost(orderAmount)
	isFree := zone.IsDeliveryFree(orderAmount)

	message := fmt.Sprintf("Доставка - %d ₽", cost/100)
	if isFree {
		message = "Бесплатная доставка"
	}

	return &CalculationResult{
		Address:           address,
		DeliveryAvailable: true,
		ZoneName:          zone.Name,
		ZoneDescription:   zone.Description,
		DeliveryCost:      cost,
		BaseCost:          zone.BaseCost,
		FreeThreshold:     zone.FreeDeliveryThreshold,
		IsDeliveryFree:    isFree,
		EstimatedTimeMin:  zone.DeliveryTimeMin,
		EstimatedTimeMax:  zone.DeliveryTimeMax,
		EstimatedTime:     fmt.Sprintf("%d-%d минут", zone.DeliveryTimeMin, zone.DeliveryTimeMax),
		Currency:          "RUB",
		Message:           message,
	}
}

// normalizeAddress приводит адрес к виду, в котором записаны правила зон:
// нижний регистр, «ё» заменяется на «е», последовательности пробелов схлопываются.
func normalizeAddress(address string) string {
	lower := strings.ToLower(strings.TrimSpace(address))
	lower = strings.ReplaceAll(lower, "ё", "е")
	return strings.Join(strings.Fields(lower), " ")
}

func zoneMatches(normalizedAddress string, zone *model.DeliveryZone) bool {
	for _, street := range zone.Streets {
		if streetMatches(normalizedAddress, street.StreetName) {
			return true
		}
	}
	for _, kw := range zone.Keywords {
		if keywordMatches(normalizedAddress, kw) {
			return true
		}
	}
	return false
}

// streetPrefixes — типовые обозначения улиц, отбрасываемые из правила перед
// сравнением: в адресах они пишутся как угодно («улица», «ул.», без ничего).
var streetPrefixes = []string{"улица ", "ул. ", "ул ", "проспект ", "пр-т ", "пр. ", "переулок ", "пер. ", "бульвар ", "шоссе "}

func streetMatches(normalizedAddress, streetName string) bool {
	street := normalizeAddress(streetName)
	for _, prefix := range streetPrefixes {
		street = strings.TrimPrefix(street, prefix)
	}
	if street == "" {
		return false
	}
	return strings.Contains(normalizedAddress, street)
}

func keywordMatches(normalizedAddress string, kw model.DeliveryZoneKeyword) bool {
	keyword := normalizeAddress(kw.Keyword)
	if keyword == "" {
		return false
	}

	switch kw.MatchType {
	case model.ZoneMatchExact:
		return normalizedAddress == keyword
	case model.ZoneMatchStartsWith:
		return strings.HasPrefix(normalizedAddress, keyword)
	default:
		return strings.Contains(normalizedAddress, keyword)
	}
}
