// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/baganov/pizzanat-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса заказа.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrOrderAlreadyPaid возвращается при попытке повторно оплатить заказ.
	ErrOrderAlreadyPaid = errors.New("order already paid")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сериализационных сбоях, дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, phone string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, phone) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, phone,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, phone, telegram_id, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Phone, &u.TelegramID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, phone, telegram_id, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Phone, &u.TelegramID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateOrder сохраняет заказ вместе с позициями в одной транзакции.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders
		   (user_id, status, payment_status, method, items_amount, delivery_cost, total_amount,
		    delivery_address, contact_name, contact_phone, comment)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		order.UserID, string(order.Status), string(order.PaymentStatus), string(order.Method),
		order.ItemsAmount, order.DeliveryCost, order.TotalAmount,
		order.DeliveryAddress, order.ContactName, order.ContactPhone, order.Comment,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_name, quantity, price) VALUES ($1, $2, $3, $4)`,
			id, item.ProductName, item.Quantity, item.Price,
		)
		if err != nil {
			return 0, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

// GetOrderByID возвращает заказ с позициями.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, status, payment_status, method, items_amount, delivery_cost, total_amount,
		        delivery_address, contact_name, contact_phone, comment, created_at, updated_at
		 FROM orders WHERE id = $1`,
		id,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.getOrderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, status, payment_status, method, items_amount, delivery_cost, total_amount,
		        delivery_address, contact_name, contact_phone, comment, created_at, updated_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func (r *PostgresRepository) getOrderItems(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_name, quantity, price FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductName, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o             model.Order
		status        string
		paymentStatus string
		method        string
	)
	err := row.Scan(&o.ID, &o.UserID, &status, &paymentStatus, &method,
		&o.ItemsAmount, &o.DeliveryCost, &o.TotalAmount,
		&o.DeliveryAddress, &o.ContactName, &o.ContactPhone, &o.Comment,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.OrderPaymentStatus(paymentStatus)
	o.Method = model.PaymentMethod(method)
	return &o, nil
}

// TransitionOrder переводит заказ в указанный статус под блокировкой строки заказа,
// сериализуя конкурентные переходы по одному заказу.
// Возвращает заказ и признак того, что статус действительно изменился:
// переход в текущий статус — no-op без изменений.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, orderID int64, target model.OrderStatus) (*model.Order, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrOrderNotFound
		}
		return nil, false, fmt.Errorf("lock order: %w", err)
	}

	from := model.OrderStatus(current)
	if from == target {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit tx: %w", err)
		}
		order, err := r.GetOrderByID(ctx, orderID)
		return order, false, err
	}

	if !model.CanTransition(from, target) {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(target),
	)
	if err != nil {
		return nil, false, fmt.Errorf("update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}

	order, err := r.GetOrderByID(ctx, orderID)
	return order, true, err
}

// MarkOrderPaid помечает заказ оплаченным. Повторная оплата — конфликт.
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, orderID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT payment_status FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("lock order: %w", err)
	}

	if model.OrderPaymentStatus(current) == model.OrderPaymentPaid {
		return ErrOrderAlreadyPaid
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(model.OrderPaymentPaid),
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// SetOrderPaymentStatus выставляет статус оплаты заказа без дополнительных проверок.
func (r *PostgresRepository) SetOrderPaymentStatus(ctx context.Context, orderID int64, status model.OrderPaymentStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// CreatePayment сохраняет новую попытку оплаты заказа.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payments (order_id, gateway_payment_id, status, method, amount, currency, confirmation_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		p.OrderID, p.GatewayPaymentID, string(p.Status), string(p.Method), p.Amount, p.Currency, p.ConfirmationURL,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}
	return id, nil
}

// GetPaymentByID возвращает платёж по идентификатору.
func (r *PostgresRepository) GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, order_id, gateway_payment_id, status, method, amount, currency,
		        confirmation_url, error_message, created_at, updated_at, paid_at
		 FROM payments WHERE id = $1`,
		id,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetPaymentByGatewayID возвращает платёж по идентификатору в платёжном шлюзе.
func (r *PostgresRepository) GetPaymentByGatewayID(ctx context.Context, gatewayID string) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, order_id, gateway_payment_id, status, method, amount, currency,
		        confirmation_url, error_message, created_at, updated_at, paid_at
		 FROM payments WHERE gateway_payment_id = $1`,
		gatewayID,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func scanPayment(row rowScanner) (*model.Payment, error) {
	var (
		p      model.Payment
		status string
		method string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.GatewayPaymentID, &status, &method,
		&p.Amount, &p.Currency, &p.ConfirmationURL, &p.ErrorMessage,
		&p.CreatedAt, &p.UpdatedAt, &p.PaidAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	p.Method = model.PaymentMethod(method)
	return &p, nil
}

// GetPaymentsForPolling возвращает незавершённые платежи, созданные после cutoff.
// Более старые незавершённые платежи не опрашиваются: это осознанная политика
// ограничения нагрузки на шлюз, а не упущение.
func (r *PostgresRepository) GetPaymentsForPolling(ctx context.Context, cutoff time.Time) ([]model.Payment, error) {
	var payments []model.Payment

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, order_id, gateway_payment_id, status, method, amount, currency,
			        confirmation_url, error_message, created_at, updated_at, paid_at
			 FROM payments
			 WHERE status IN ($1, $2) AND created_at >= $3
			 ORDER BY created_at`,
			string(model.PaymentStatusPending),
			string(model.PaymentStatusWaitingForCapture),
			cutoff,
		)
		if err != nil {
			return fmt.Errorf("select payments for polling: %w", err)
		}
		defer rows.Close()

		payments = payments[:0]
		for rows.Next() {
			p, err := scanPayment(rows)
			if err != nil {
				return fmt.Errorf("scan payment: %w", err)
			}
			payments = append(payments, *p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return payments, nil
}

// GetLatestPaymentForOrder возвращает последний созданный платёж заказа.
func (r *PostgresRepository) GetLatestPaymentForOrder(ctx context.Context, orderID int64) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, order_id, gateway_payment_id, status, method, amount, currency,
		        confirmation_url, error_message, created_at, updated_at, paid_at
		 FROM payments
		 WHERE order_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		orderID,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// UpdatePaymentStatus обновляет статус платежа, если он ещё не в терминальном состоянии.
// Возвращает признак того, что запись была изменена.
func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, paymentID int64, status model.PaymentStatus, errorMessage *string) (bool, error) {
	var paidAt any
	if status == model.PaymentStatusSucceeded {
		paidAt = time.Now()
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payments
		 SET status = $2, error_message = $3, paid_at = COALESCE($4, paid_at), updated_at = now()
		 WHERE id = $1 AND status NOT IN ($5, $6, $7)`,
		paymentID, string(status), errorMessage, paidAt,
		string(model.PaymentStatusSucceeded),
		string(model.PaymentStatusCancelled),
		string(model.PaymentStatusFailed),
	)
	if err != nil {
		return false, fmt.Errorf("update payment: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// GetActiveZones возвращает активные зоны доставки с правилами сопоставления,
// упорядоченные по убыванию приоритета. Порядок стабилен: при равном приоритете
// зоны идут по возрастанию идентификатора.
func (r *PostgresRepository) GetActiveZones(ctx context.Context) ([]model.DeliveryZone, error) {
	var zones []model.DeliveryZone

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, name, description, base_cost, free_delivery_threshold,
			        delivery_time_min, delivery_time_max, is_active, priority, created_at, updated_at
			 FROM delivery_zones
			 WHERE is_active = true
			 ORDER BY priority DESC, id`,
		)
		if err != nil {
			return fmt.Errorf("select zones: %w", err)
		}
		defer rows.Close()

		zones = zones[:0]
		for rows.Next() {
			var z model.DeliveryZone
			if err := rows.Scan(&z.ID, &z.Name, &z.Description, &z.BaseCost, &z.FreeDeliveryThreshold,
				&z.DeliveryTimeMin, &z.DeliveryTimeMax, &z.IsActive, &z.Priority,
				&z.CreatedAt, &z.UpdatedAt); err != nil {
				return fmt.Errorf("scan zone: %w", err)
			}
			zones = append(zones, z)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	if len(zones) == 0 {
		return zones, nil
	}

	index := make(map[int64]*model.DeliveryZone, len(zones))
	ids := make([]int64, 0, len(zones))
	for i := range zones {
		index[zones[i].ID] = &zones[i]
		ids = append(ids, zones[i].ID)
	}

	if err := r.loadZoneStreets(ctx, ids, index); err != nil {
		return nil, err
	}
	if err := r.loadZoneKeywords(ctx, ids, index); err != nil {
		return nil, err
	}

	return zones, nil
}

func (r *PostgresRepository) loadZoneStreets(ctx context.Context, ids []int64, index map[int64]*model.DeliveryZone) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, zone_id, street_name FROM delivery_zone_streets WHERE zone_id = ANY($1) ORDER BY id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select zone streets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.DeliveryZoneStreet
		if err := rows.Scan(&s.ID, &s.ZoneID, &s.StreetName); err != nil {
			return fmt.Errorf("scan zone street: %w", err)
		}
		if z, ok := index[s.ZoneID]; ok {
			z.Streets = append(z.Streets, s)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) loadZoneKeywords(ctx context.Context, ids []int64, index map[int64]*model.DeliveryZone) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, zone_id, keyword, match_type FROM delivery_zone_keywords WHERE zone_id = ANY($1) ORDER BY id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select zone keywords: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			k         model.DeliveryZoneKeyword
			matchType string
		)
		if err := rows.Scan(&k.ID, &k.ZoneID, &k.Keyword, &matchType); err != nil {
			return fmt.Errorf("scan zone keyword: %w", err)
		}
		k.MatchType = model.ZoneMatchType(matchType)
		if z, ok := index[k.ZoneID]; ok {
			z.Keywords = append(z.Keywords, k)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

// ScheduleNotification сохраняет отложенное уведомление.
// Для пары (заказ, тип) запись создаётся не более одного раза; повторное
// планирование возвращает false без изменений.
func (r *PostgresRepository) ScheduleNotification(ctx context.Context, n *model.ScheduledNotification) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO scheduled_notifications
		   (order_id, telegram_id, notification_type, message, scheduled_at, status, max_retries)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (order_id, notification_type) DO NOTHING`,
		n.OrderID, n.TelegramID, string(n.Type), n.Message, n.ScheduledAt,
		string(model.NotificationStatusPending), n.MaxRetries,
	)
	if err != nil {
		return false, fmt.Errorf("insert scheduled notification: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// GetDueNotifications возвращает уведомления, готовые к отправке к моменту now:
// ожидающие с наступившим временем и неудавшиеся с оставшимися попытками.
func (r *PostgresRepository) GetDueNotifications(ctx context.Context, now time.Time) ([]model.ScheduledNotification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, telegram_id, notification_type, message, scheduled_at, sent_at,
		        status, retry_count, max_retries, error_message, created_at, updated_at
		 FROM scheduled_notifications
		 WHERE scheduled_at <= $1
		   AND (status = $2 OR (status = $3 AND retry_count < max_retries))
		 ORDER BY scheduled_at`,
		now,
		string(model.NotificationStatusPending),
		string(model.NotificationStatusFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("select due notifications: %w", err)
	}
	defer rows.Close()

	var res []model.ScheduledNotification
	for rows.Next() {
		var (
			n                model.ScheduledNotification
			notificationType string
			status           string
		)
		if err := rows.Scan(&n.ID, &n.OrderID, &n.TelegramID, &notificationType, &n.Message,
			&n.ScheduledAt, &n.SentAt, &status, &n.RetryCount, &n.MaxRetries,
			&n.ErrorMessage, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = model.NotificationType(notificationType)
		n.Status = model.NotificationStatus(status)
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkNotificationSent помечает уведомление отправленным.
func (r *PostgresRepository) MarkNotificationSent(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = $2, sent_at = now(), error_message = NULL, updated_at = now()
		 WHERE id = $1`,
		id, string(model.NotificationStatusSent),
	)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationFailed фиксирует неудачную попытку отправки уведомления.
func (r *PostgresRepository) MarkNotificationFailed(ctx context.Context, id int64, errorMessage string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = $2, error_message = $3, retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $1`,
		id, string(model.NotificationStatusFailed), errorMessage,
	)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}
