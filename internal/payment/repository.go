package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

type Repository interface {
	SavePayment(ctx context.Context, p *Payment) error
	GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*Payment, error)
	// UpdatePaymentResult settles a pending payment. It reports false when
	// the payment was already settled.
	UpdatePaymentResult(ctx context.Context, r Result) (bool, error)

	SavePaymentWebhook(
		ctx context.Context,
		provider string,
		eventID string,
		eventType string,
		externalID string,
		payload json.RawMessage,
		signatureValid bool,
	) (webhookID int64, isDuplicate bool, err error)

	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) SavePayment(ctx context.Context, p *Payment) error {
	const q = `
	INSERT INTO mpesa_payments (
		order_id,
		user_id,
		checkout_request_id,
		merchant_request_id,
		phone_number,
		amount,
		status,
		environment
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, created_at, updated_at;
	`

	return r.db.QueryRowContext(ctx, q,
		p.OrderID,
		p.UserID,
		p.CheckoutRequestID,
		p.MerchantRequestID,
		p.PhoneNumber,
		p.Amount,
		p.Status,
		p.Environment,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *repository) GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*Payment, error) {
	const q = `
	SELECT id, order_id, user_id, checkout_request_id, merchant_request_id,
		phone_number, amount, status, result_code, result_desc,
		receipt_number, environment, created_at, updated_at
	FROM mpesa_payments WHERE checkout_request_id = $1
	`

	var (
		p          Payment
		userID     sql.NullString
		resultCode sql.NullInt64
		resultDesc sql.NullString
		receipt    sql.NullString
	)
	err := r.db.QueryRowContext(ctx, q, checkoutRequestID).Scan(
		&p.ID, &p.OrderID, &userID, &p.CheckoutRequestID, &p.MerchantRequestID,
		&p.PhoneNumber, &p.Amount, &p.Status, &resultCode, &resultDesc,
		&receipt, &p.Environment, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		p.UserID = &userID.String
	}
	if resultCode.Valid {
		code := int(resultCode.Int64)
		p.ResultCode = &code
	}
	p.ResultDesc = resultDesc.String
	p.ReceiptNumber = receipt.String
	return &p, nil
}

func (r *repository) UpdatePaymentResult(ctx context.Context, res Result) (bool, error) {
	const q = `
	UPDATE mpesa_payments
	SET status = $2, result_code = $3, result_desc = $4, receipt_number = NULLIF($5, ''), updated_at = now()
	WHERE checkout_request_id = $1 AND status = 'PENDING';
	`

	out, err := r.db.ExecContext(ctx, q,
		res.CheckoutRequestID,
		res.Status,
		res.ResultCode,
		res.ResultDesc,
		res.ReceiptNumber,
	)
	if err != nil {
		return false, err
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *repository) SavePaymentWebhook(
	ctx context.Context,
	provider string,
	eventID string,
	eventType string,
	externalID string,
	payload json.RawMessage,
	signatureValid bool,
) (int64, bool, error) {

	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_type,
		event_id,
		external_id,
		signature_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (provider, event_id)
	DO NOTHING
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(
		ctx,
		q,
		provider,
		eventType,
		eventID,
		externalID,
		signatureValid,
		[]byte(payload),
	).Scan(&id)

	if err != nil {
		// Duplicate webhook → idempotent success
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, err
	}

	return id, false, nil
}

func (r *repository) MarkWebhookProcessed(
	ctx context.Context,
	webhookID int64,
) error {

	const q = `
	UPDATE payment_webhooks
	SET processed_at = now()
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID)
	return err
}

func (r *repository) MarkWebhookFailed(
	ctx context.Context,
	webhookID int64,
	reason string,
) error {

	const q = `
	UPDATE payment_webhooks
	SET process_error = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID, reason)
	return err
}
