package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	HeaderSigner    = "X-Signer"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderRequestID = "X-Request-ID"

	ctxSigner    = "signer"
	ctxRequestID = "request_id"

	maxBodyBytes  = 1 << 16
	maxNonceBytes = 64

	defaultMaxSkew        = 5 * time.Minute
	defaultNonceCacheSize = 1 << 16
)

// requestID tags every request with an id, reusing the caller's if present.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Auth configures signed request verification. Zero values select the
// defaults.
type Auth struct {
	MaxSkew        time.Duration
	NonceCacheSize int
}

// SigningMessage returns the bytes a client signs for a request.
func SigningMessage(method, path string, timestamp int64, nonce string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(timestamp, 10))
	buf.WriteByte('\n')
	buf.WriteString(nonce)
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}

type nonceKey struct {
	signer solana.PublicKey
	nonce  string
}

// verifier checks request signatures and remembers accepted nonces for as
// long as their timestamp is acceptable.
type verifier struct {
	logger    *zap.Logger
	maxSkew   time.Duration
	cacheSize int
	clockNow  func() time.Time

	mu   sync.Mutex
	seen *expirable.LRU[nonceKey, struct{}]
}

func newVerifier(cfg Auth, logger *zap.Logger) *verifier {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = defaultMaxSkew
	}
	if cfg.NonceCacheSize <= 0 {
		cfg.NonceCacheSize = defaultNonceCacheSize
	}
	return &verifier{
		logger:    logger,
		maxSkew:   cfg.MaxSkew,
		cacheSize: cfg.NonceCacheSize,
		clockNow:  time.Now,
		seen:      expirable.NewLRU[nonceKey, struct{}](cfg.NonceCacheSize, nil, 2*cfg.MaxSkew),
	}
}

// middleware verifies that X-Signature is the X-Signer key's ed25519
// signature over SigningMessage and stores the signer on the context. Each
// (signer, nonce) pair is accepted once.
func (v *verifier) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		signer, err := solana.PublicKeyFromBase58(c.GetHeader(HeaderSigner))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid signer"})
			return
		}
		sig, err := solana.SignatureFromBase58(c.GetHeader(HeaderSignature))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid signature"})
			return
		}
		ts, err := strconv.ParseInt(c.GetHeader(HeaderTimestamp), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid timestamp"})
			return
		}
		nonce := c.GetHeader(HeaderNonce)
		if nonce == "" || len(nonce) > maxNonceBytes {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid nonce"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if skew := v.clockNow().Sub(time.Unix(ts, 0)).Abs(); skew > v.maxSkew {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request timestamp outside the accepted window"})
			return
		}
		if !sig.Verify(signer, SigningMessage(c.Request.Method, c.Request.URL.Path, ts, nonce, body)) {
			v.logger.Warn("signature verification failed",
				zap.String("request_id", c.GetString(ctxRequestID)),
				zap.Stringer("signer", signer),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature does not match request"})
			return
		}
		if status, msg := v.admit(nonceKey{signer: signer, nonce: nonce}); status != http.StatusOK {
			v.logger.Warn(msg,
				zap.String("request_id", c.GetString(ctxRequestID)),
				zap.Stringer("signer", signer),
			)
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		c.Set(ctxSigner, signer)
		c.Next()
	}
}

// admit records key, failing closed when the cache is full so that no live
// nonce is ever evicted.
func (v *verifier) admit(key nonceKey) (int, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seen.Contains(key) {
		return http.StatusUnauthorized, "replayed request"
	}
	if v.seen.Len() >= v.cacheSize {
		return http.StatusServiceUnavailable, "too many signed requests in flight"
	}
	v.seen.Add(key, struct{}{})
	return http.StatusOK, ""
}

func signerFrom(c *gin.Context) solana.PublicKey {
	v, _ := c.Get(ctxSigner)
	key, _ := v.(solana.PublicKey)
	return key
}

// RateLimit caps requests per client IP. A non-positive rate disables it.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	cfg      RateLimit
	mu       sync.Mutex
	visitors map[string]*visitor
	idle     time.Duration
	clockNow func() time.Time
}

func newRateLimiter(cfg RateLimit) *rateLimiter {
	return &rateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		idle:     5 * time.Minute,
		clockNow: time.Now,
	}
}

func (r *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.cfg.RequestsPerMinute <= 0 {
			c.Next()
			return
		}
		if !r.obtain(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": http.StatusText(http.StatusTooManyRequests)})
			return
		}
		c.Next()
	}
}

func (r *rateLimiter) obtain(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	if v, ok := r.visitors[id]; ok {
		v.lastSeen = now
		return v.limiter
	}
	for key, v := range r.visitors {
		if now.Sub(v.lastSeen) > r.idle {
			delete(r.visitors, key)
		}
	}
	burst := r.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	v := &visitor{limiter: rate.NewLimiter(rate.Limit(r.cfg.RequestsPerMinute/60.0), burst), lastSeen: now}
	r.visitors[id] = v
	return v.limiter
}
