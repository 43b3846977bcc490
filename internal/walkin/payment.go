package walkin

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/internal/mpesa"
	"github.com/wolfman30/carwash-platform/internal/payments"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
)

type CashInput struct {
	AmountCents *int64 `json:"amount_cents" validate:"omitempty,gt=0"`
}

type MpesaInput struct {
	PhoneNumber string `json:"phone_number" validate:"max=20"`
}

// paymentState reports whether the walk-in is already settled and returns
// an M-Pesa payment whose prompt is still open.
func (s *Service) paymentState(ctx context.Context, customerID uuid.UUID) (bool, *Payment, error) {
	pays, err := s.store.ListPayments(ctx, customerID)
	if err != nil {
		return false, nil, err
	}
	var open *Payment
	for i := range pays {
		p := &pays[i]
		if p.Status.Settled() {
			return true, nil, nil
		}
		if open != nil || s.payments == nil || p.Method != MethodMpesa {
			continue
		}
		if p.Status != PaymentPending && p.Status != PaymentProcessing {
			continue
		}
		txn, err := payments.OpenAttempt(ctx, s.payments, payments.SubjectWalkIn, p.ID, s.now())
		if err != nil {
			return false, nil, err
		}
		if txn != nil {
			open = p
		}
	}
	return false, open, nil
}

func (s *Service) checkPayable(ctx context.Context, c *Customer) error {
	if c.Status == CustomerCancelled {
		return apperr.Conflict("walk-in payment", "walk-in was cancelled")
	}
	paid, open, err := s.paymentState(ctx, c.ID)
	if err != nil {
		return err
	}
	if paid {
		return apperr.Conflict("walk-in payment", "walk-in is already paid")
	}
	if open != nil {
		return apperr.Conflict("walk-in payment", "an M-Pesa prompt is already open for this walk-in")
	}
	return nil
}

// RecordCashPayment marks a walk-in paid in cash.
func (s *Service) RecordCashPayment(ctx context.Context, actor tenancy.Identity, customerID uuid.UUID, in CashInput) (*Payment, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	var out *Payment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.loadCustomer(ctx, actor, customerID)
		if err != nil {
			return err
		}
		if err := s.checkPayable(ctx, c); err != nil {
			return err
		}
		amount := c.AmountCents
		if in.AmountCents != nil {
			amount = *in.AmountCents
		}
		now := s.now()
		p := &Payment{
			ID:          uuid.New(),
			TenantID:    c.TenantID,
			CustomerID:  c.ID,
			AmountCents: amount,
			Method:      MethodCash,
			Status:      PaymentPaid,
			PaidAt:      &now,
		}
		if err := s.store.InsertPayment(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("walk-in cash payment recorded", "walkin_customer_id", customerID, "amount_cents", out.AmountCents)
	return out, nil
}

func walkInReference(c *Customer) string {
	if c.VehiclePlate != "" {
		return strings.ReplaceAll(c.VehiclePlate, " ", "")
	}
	return "WI" + strings.ToUpper(strings.ReplaceAll(c.ID.String(), "-", "")[:8])
}

// InitiateMpesaPayment sends an STK push for the walk-in amount. The payment
// and its ledger row are written before the push; the walk-in callback
// settles them.
func (s *Service) InitiateMpesaPayment(ctx context.Context, actor tenancy.Identity, customerID uuid.UUID, in MpesaInput) (*Payment, error) {
	ctx, span := tracer.Start(ctx, "walkin.initiate_mpesa")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.walkin_customer_id", customerID.String()))

	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if s.gateway == nil || s.payments == nil {
		return nil, apperr.GatewayError{Msg: "M-Pesa payments are not configured"}
	}
	s.settleOpen(ctx, customerID)

	var (
		c   *Customer
		p   *Payment
		txn *payments.Transaction
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.loadCustomer(ctx, actor, customerID); err != nil {
			return err
		}
		if err := s.checkPayable(ctx, c); err != nil {
			return err
		}
		phone := strings.TrimSpace(in.PhoneNumber)
		if phone == "" {
			phone = c.Phone
		}
		msisdn, err := mpesa.NormalizePhone(phone)
		if err != nil {
			return apperr.Invalid("phone_number", "invalid phone number format")
		}
		if s.velocity != nil {
			res, err := s.velocity.CheckPush(ctx, c.TenantID, msisdn)
			if err != nil {
				s.logger.Warn("velocity check failed", "error", err)
			} else if res != nil && !res.Allowed {
				return apperr.Conflict("walk-in payment", res.Message)
			}
		}
		p = &Payment{
			ID:          uuid.New(),
			TenantID:    c.TenantID,
			CustomerID:  c.ID,
			AmountCents: c.AmountCents,
			Method:      MethodMpesa,
			Status:      PaymentPending,
			Phone:       msisdn,
		}
		if err := s.store.InsertPayment(ctx, p); err != nil {
			return err
		}
		txn = &payments.Transaction{
			ID:          uuid.New(),
			TenantID:    c.TenantID,
			SubjectKind: payments.SubjectWalkIn,
			SubjectID:   p.ID,
			Phone:       msisdn,
			AmountCents: c.AmountCents,
			Status:      payments.StatusInitiated,
			CreatedAt:   s.now(),
		}
		return s.payments.Insert(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	push := s.gateway.STKPush(ctx, mpesa.PushRequest{
		Phone:       p.Phone,
		AmountCents: p.AmountCents,
		Reference:   walkInReference(c),
		Description: "Car wash",
		CallbackURL: s.callbackURL,
	})
	if !push.Success {
		s.recordPushFailure(ctx, p, txn.ID, push.Error)
		s.logger.Warn("walk-in stk push failed", "walkin_customer_id", c.ID, "error", push.Error, "transport", push.Transport)
		return nil, apperr.GatewayError{Msg: push.Error, Upstream: !push.Transport}
	}

	if err := s.payments.Promote(ctx, txn.ID, push.MerchantRequestID, push.CheckoutRequestID); err != nil {
		s.logger.Error("failed to record accepted walk-in stk push", "payment_id", p.ID, "checkout_request_id", push.CheckoutRequestID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record payment failed")
		return nil, fmt.Errorf("walkin: record payment: %w", err)
	}
	p.Status = PaymentProcessing
	p.CheckoutRequestID, p.MerchantRequestID = push.CheckoutRequestID, push.MerchantRequestID
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		// The ledger row links the checkout id to this payment, so the
		// callback still settles it.
		s.logger.Error("failed to update walk-in payment after stk push", "payment_id", p.ID, "checkout_request_id", push.CheckoutRequestID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record payment failed")
		return nil, fmt.Errorf("walkin: record payment: %w", err)
	}
	s.logger.Info("walk-in stk push sent", "walkin_customer_id", c.ID, "checkout_request_id", push.CheckoutRequestID)
	return p, nil
}

func (s *Service) recordPushFailure(ctx context.Context, p *Payment, txnID uuid.UUID, reason string) {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		now := s.now()
		if err := s.payments.FailPush(ctx, txnID, reason, now); err != nil {
			return err
		}
		p.MarkFailed(PaymentFailed, reason, now)
		return s.store.UpdatePayment(ctx, p)
	})
	if err != nil {
		s.logger.Error("failed to record walk-in push failure", "payment_id", p.ID, "error", err)
	}
}

// settleOpen applies final status query results to the walk-in's payments
// still awaiting a callback.
func (s *Service) settleOpen(ctx context.Context, customerID uuid.UUID) {
	if s.applier == nil {
		return
	}
	pays, err := s.store.ListPayments(ctx, customerID)
	if err != nil {
		s.logger.Warn("could not list walk-in payments", "walkin_customer_id", customerID, "error", err)
		return
	}
	for i := range pays {
		s.settle(ctx, &pays[i])
	}
}

// settle queries the gateway for a processing payment and applies a final
// result. It returns the payment as stored afterwards.
func (s *Service) settle(ctx context.Context, p *Payment) *Payment {
	if p.Status != PaymentProcessing || p.CheckoutRequestID == "" || s.gateway == nil || s.applier == nil {
		return p
	}
	res := s.gateway.QueryStatus(ctx, p.CheckoutRequestID)
	if !res.Final() {
		return p
	}
	if err := s.applier.ApplyQueryResult(ctx, payments.SubjectWalkIn, p.CheckoutRequestID, res); err != nil {
		s.logger.Warn("apply walk-in query result failed", "payment_id", p.ID, "error", err)
		return p
	}
	if reloaded, err := s.store.GetPayment(ctx, p.ID); err == nil {
		return reloaded
	}
	return p
}

// PaymentStatus returns a walk-in payment, settling it from a status query
// while the prompt is still open.
func (s *Service) PaymentStatus(ctx context.Context, actor tenancy.Identity, paymentID uuid.UUID) (*Payment, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, translate("walk-in payment", err)
	}
	if _, err := s.loadCustomer(ctx, actor, p.CustomerID); err != nil {
		return nil, apperr.NotFound("walk-in payment")
	}
	return s.settle(ctx, p), nil
}
