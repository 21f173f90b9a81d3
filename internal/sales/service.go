package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"icosale/internal/authority"
)

const (
	OpInitialize = "initialize"
	OpTopUp      = "top_up"
	OpPurchase   = "purchase"
)

// Observer is notified of every operation outcome, successful or not.
type Observer interface {
	ObserveOperation(op string, err error)
}

// Config identifies the program and token a Service sells.
type Config struct {
	ProgramID solana.PublicKey
	Mint      solana.PublicKey
	Pricing   Pricing
}

// Service provides the sale operations on top of a Host.
type Service struct {
	host     Host
	program  solana.PublicKey
	mint     solana.PublicKey
	pricing  Pricing
	holding  solana.PublicKey
	proof    authority.Proof
	emitter  Emitter
	observer Observer
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewService creates a new Service. The holding account and its signing
// proof are derived once from the program and mint.
func NewService(host Host, cfg Config, logger *zap.Logger) (*Service, error) {
	if host == nil {
		return nil, errors.New("sale: host required")
	}
	if cfg.ProgramID.IsZero() || cfg.Mint.IsZero() {
		return nil, errors.New("sale: program id and mint required")
	}
	if err := cfg.Pricing.Validate(); err != nil {
		return nil, err
	}
	holding, proof, err := authority.HoldingAccount(cfg.ProgramID, cfg.Mint)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		host:    host,
		program: cfg.ProgramID,
		mint:    cfg.Mint,
		pricing: cfg.Pricing,
		holding: holding,
		proof:   proof,
		emitter: NoopEmitter{},
		logger:  logger,
		nowFn:   time.Now,
	}, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (s *Service) SetEmitter(e Emitter) {
	if e == nil {
		s.emitter = NoopEmitter{}
		return
	}
	s.emitter = e
}

// SetObserver configures the operation observer.
func (s *Service) SetObserver(o Observer) { s.observer = o }

// Holding returns the derived holding account.
func (s *Service) Holding() solana.PublicKey { return s.holding }

// Mint returns the token being sold.
func (s *Service) Mint() solana.PublicKey { return s.mint }

// Pricing returns the conversion constants in use.
func (s *Service) Pricing() Pricing { return s.pricing }

// RecordAddress returns the seed of the campaign administered by admin.
func (s *Service) RecordAddress(admin solana.PublicKey) (solana.PublicKey, error) {
	return authority.RecordAddress(s.program, admin)
}

// TokenAccount returns the associated token account of wallet for the sale mint.
func (s *Service) TokenAccount(wallet solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(wallet, s.mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("sale: associated token account: %w", err)
	}
	return addr, nil
}

// Get returns the committed record for seed.
func (s *Service) Get(ctx context.Context, seed solana.PublicKey) (*Record, error) {
	return s.host.Records().Read(ctx, seed)
}

// Initialize creates the campaign record for req.Admin after moving the
// initial units into the holding account.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (*Record, error) {
	seed, err := s.RecordAddress(req.Admin)
	if err != nil {
		return nil, s.done(OpInitialize, err)
	}
	var (
		rec *Record
		raw uint64
	)
	err = s.host.Atomic(ctx, seed, func(sess Session) error {
		if req.Units == 0 {
			return ErrInvalidAmount
		}
		if err := s.checkHolding(req.Holding); err != nil {
			return err
		}
		var err error
		if raw, err = s.pricing.RawUnits(req.Units); err != nil {
			return err
		}
		if _, err := sess.Records().Read(ctx, seed); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := sess.Tokens().Transfer(ctx, req.Source, s.holding, authority.Signer(req.Admin), raw); err != nil {
			return rejected(err)
		}
		rec = &Record{Seed: seed, Admin: req.Admin, TotalUnits: req.Units}
		return sess.Records().Create(ctx, rec)
	})
	if err != nil {
		s.logger.Warn("initialize failed", zap.Stringer("admin", req.Admin), zap.Uint64("units", req.Units), zap.Error(err))
		return nil, s.done(OpInitialize, err)
	}
	s.logger.Info("sale initialized",
		zap.Stringer("seed", seed),
		zap.Stringer("admin", req.Admin),
		zap.Uint64("units", req.Units),
	)
	s.emitter.Emit(newEvent(EventTypeInitialized, rec, req.Admin, req.Units, raw, 0, s.nowFn()))
	return rec.Clone(), s.done(OpInitialize, nil)
}

// TopUp deposits more units into the campaign. Only the admin may call it.
func (s *Service) TopUp(ctx context.Context, req TopUpRequest) (*Record, error) {
	var (
		next *Record
		raw  uint64
	)
	err := s.host.Atomic(ctx, req.Seed, func(sess Session) error {
		if req.Units == 0 {
			return ErrInvalidAmount
		}
		rec, err := sess.Records().Read(ctx, req.Seed)
		if err != nil {
			return err
		}
		if rec.Admin != req.Admin {
			return ErrInvalidAdmin
		}
		if err := s.checkHolding(req.Holding); err != nil {
			return err
		}
		if raw, err = s.pricing.RawUnits(req.Units); err != nil {
			return err
		}
		total, err := checkedAdd(rec.TotalUnits, req.Units)
		if err != nil {
			return err
		}
		if err := sess.Tokens().Transfer(ctx, req.Source, s.holding, authority.Signer(req.Admin), raw); err != nil {
			return rejected(err)
		}
		next = rec.Clone()
		next.TotalUnits = total
		return sess.Records().Update(ctx, rec, next)
	})
	if err != nil {
		s.logger.Warn("top up failed", zap.Stringer("seed", req.Seed), zap.Uint64("units", req.Units), zap.Error(err))
		return nil, s.done(OpTopUp, err)
	}
	s.logger.Info("deposited additional units",
		zap.Stringer("seed", req.Seed),
		zap.Uint64("units", req.Units),
		zap.Uint64("total_units", next.TotalUnits),
	)
	s.emitter.Emit(newEvent(EventTypeToppedUp, next, req.Admin, req.Units, raw, 0, s.nowFn()))
	return next.Clone(), s.done(OpTopUp, nil)
}

// Purchase pays the admin and moves the bought units from the holding
// account to the buyer.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*Record, error) {
	dest := req.BuyerTokenAccount
	if dest.IsZero() {
		var err error
		if dest, err = s.TokenAccount(req.Buyer); err != nil {
			return nil, s.done(OpPurchase, err)
		}
	}
	var (
		next      *Record
		raw, cost uint64
	)
	err := s.host.Atomic(ctx, req.Seed, func(sess Session) error {
		if req.Units == 0 {
			return ErrInvalidAmount
		}
		rec, err := sess.Records().Read(ctx, req.Seed)
		if err != nil {
			return err
		}
		if rec.Admin != req.Payee {
			return ErrInvalidAdmin
		}
		if err := s.checkHolding(req.Holding); err != nil {
			return err
		}
		if raw, err = s.pricing.RawUnits(req.Units); err != nil {
			return err
		}
		if cost, err = s.pricing.Cost(req.Units); err != nil {
			return err
		}
		sold, err := checkedAdd(rec.UnitsSold, req.Units)
		if err != nil {
			return err
		}
		if sold > rec.TotalUnits {
			return fmt.Errorf("%w: %d requested, %d remaining", ErrInsufficientSupply, req.Units, rec.Remaining())
		}
		if err := sess.Payments().Transfer(ctx, req.Buyer, req.Payee, cost); err != nil {
			return rejected(err)
		}
		if err := sess.Tokens().Transfer(ctx, s.holding, dest, authority.Derived(s.holding, s.proof), raw); err != nil {
			return rejected(err)
		}
		next = rec.Clone()
		next.UnitsSold = sold
		return sess.Records().Update(ctx, rec, next)
	})
	if err != nil {
		s.logger.Warn("purchase failed", zap.Stringer("seed", req.Seed), zap.Stringer("buyer", req.Buyer), zap.Uint64("units", req.Units), zap.Error(err))
		return nil, s.done(OpPurchase, err)
	}
	s.logger.Info("transferred units to buyer",
		zap.Stringer("seed", req.Seed),
		zap.Stringer("buyer", req.Buyer),
		zap.Uint64("units", req.Units),
		zap.Uint64("lamports", cost),
	)
	s.emitter.Emit(newEvent(EventTypePurchased, next, req.Buyer, req.Units, raw, cost, s.nowFn()))
	return next.Clone(), s.done(OpPurchase, nil)
}

func (s *Service) checkHolding(holding solana.PublicKey) error {
	if holding.IsZero() || holding == s.holding {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidAccount, holding)
}

func (s *Service) done(op string, err error) error {
	if s.observer != nil {
		s.observer.ObserveOperation(op, err)
	}
	return err
}

func rejected(err error) error {
	if errors.Is(err, ErrTransferRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransferRejected, err)
}
