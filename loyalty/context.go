package loyalty

import (
	"context"

	"loyalty-engine/models"
	"loyalty-engine/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ContextRequest identifies the parties of an operation. Either CustomerID or
// Phone must be given.
type ContextRequest struct {
	MerchantID uuid.UUID
	CustomerID *uuid.UUID
	Phone      string
	OutletID   *uuid.UUID
	StaffID    *uuid.UUID
	DeviceID   *uuid.UUID
}

// Context is the validated view of who is buying, where and from whom.
type Context struct {
	Settings Settings
	Customer models.Customer
	OutletID *uuid.UUID
	StaffID  *uuid.UUID
	DeviceID *uuid.UUID
}

// ResolveContext validates that every referenced entity belongs to the
// merchant and loads the settings snapshot.
func (s *Service) ResolveContext(ctx context.Context, req ContextRequest) (*Context, error) {
	ctx, span := tracer.Start(ctx, "loyalty.ResolveContext")
	defer span.End()

	if req.MerchantID == uuid.Nil {
		return nil, validationError("merchantId required")
	}
	out := &Context{StaffID: req.StaffID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		settings, err := s.LoadSettings(gctx, req.MerchantID)
		out.Settings = settings
		return err
	})
	g.Go(func() error {
		customer, err := s.findCustomer(gctx, req)
		if err != nil {
			return err
		}
		out.Customer = *customer
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	var device *models.Device
	if req.DeviceID != nil {
		g.Go(func() error {
			var d models.Device
			err := s.db.WithContext(gctx).
				Where("id = ? AND merchant_id = ? AND archived_at IS NULL", *req.DeviceID, req.MerchantID).
				Take(&d).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationError("Device not found")
			}
			if err != nil {
				return errors.Wrap(err, "load device")
			}
			device = &d
			return nil
		})
	}
	if req.OutletID != nil {
		g.Go(func() error {
			return s.ensureOwned(gctx, &models.Outlet{}, *req.OutletID, req.MerchantID, "Outlet not found")
		})
	}
	if req.StaffID != nil {
		g.Go(func() error {
			return s.ensureOwned(gctx, &models.Staff{}, *req.StaffID, req.MerchantID, "Staff not found")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.OutletID = req.OutletID
	if device != nil {
		out.DeviceID = &device.ID
		if out.OutletID == nil {
			out.OutletID = device.OutletID
		}
	}
	return out, nil
}

func (s *Service) findCustomer(ctx context.Context, req ContextRequest) (*models.Customer, error) {
	q := s.db.WithContext(ctx).Where("merchant_id = ?", req.MerchantID)
	switch {
	case req.CustomerID != nil && *req.CustomerID != uuid.Nil:
		q = q.Where("id = ?", *req.CustomerID)
	case req.Phone != "":
		phone, err := utils.NormalizePhone(req.Phone)
		if err != nil {
			return nil, validationError(msgInvalidPhone)
		}
		q = q.Where("phone = ?", phone)
	default:
		return nil, validationError("customerId required")
	}
	var customer models.Customer
	err := q.Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validationError(msgCustomerNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load customer")
	}
	return &customer, nil
}

func (s *Service) ensureOwned(ctx context.Context, model interface{}, id, merchantID uuid.UUID, notFound string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND merchant_id = ?", id, merchantID).
		Count(&n).Error; err != nil {
		return errors.Wrap(err, "check ownership")
	}
	if n == 0 {
		return validationError(notFound)
	}
	return nil
}
