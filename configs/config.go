package configs

import (
	"os"
	"strconv"
	"strings"
	"time"

	"paygate/gateway"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBDriver  string
	DBSource  string
	Port      string
	JWTSecret string
	JWTTTL    time.Duration
	LogLevel  string
	LogPretty bool

	// ยอมให้ต่างได้เท่าเศษปัดของสกุลเงิน
	AmountTolerance decimal.Decimal

	Gateways gateway.Providers

	RedisAddr      string
	RedisPassword  string
	RateLimit      int
	RateLimitEvery time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	SeedDemo bool
}

// LoadConfig reads .env when present, then the environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not read .env")
	}

	return &Config{
		DBDriver:  getEnv("DB_DRIVER", "sqlite"),
		DBSource:  getEnv("DB_SOURCE", "paygate.db"),
		Port:      getEnv("PORT", "8000"),
		JWTSecret: getEnv("JWT_SECRET", "changeme"),
		JWTTTL:    getDuration("JWT_TTL", 24*time.Hour),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getBool("LOG_PRETTY", true),

		AmountTolerance: getDecimal("AMOUNT_TOLERANCE", decimal.RequireFromString("0.01")),

		Gateways: gateway.Providers{
			VNPay: gateway.VNPayConfig{
				TmnCode:    os.Getenv("VNPAY_TMNCODE"),
				HashSecret: os.Getenv("VNPAY_HASHSECRET"),
				PayURL:     getEnv("VNPAY_API_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
				APIURL:     getEnv("VNPAY_MERCHANT_API_URL", "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"),
				ReturnURL:  getEnv("VNPAY_RETURN_URL", "http://localhost:3000/payment/vnpay-return"),
				ExpireIn:   getDuration("VNPAY_EXPIRE_IN", 15*time.Minute),
			},
			MoMo: gateway.MoMoConfig{
				PartnerCode: os.Getenv("MOMO_PARTNER_CODE"),
				AccessKey:   os.Getenv("MOMO_ACCESS_KEY"),
				SecretKey:   os.Getenv("MOMO_SECRET_KEY"),
				Endpoint:    getEnv("MOMO_API_ENDPOINT", "https://test-payment.momo.vn/v2/gateway/api"),
				RedirectURL: getEnv("MOMO_REDIRECT_URL", "http://localhost:3000/payment/momo-return"),
				IPNURL:      getEnv("MOMO_IPN_URL", "http://localhost:8000/api/payments/momo-ipn"),
				RequestType: getEnv("MOMO_REQUEST_TYPE", "captureWallet"),
			},
			ZaloPay: gateway.ZaloPayConfig{
				AppID:       os.Getenv("ZALOPAY_APP_ID"),
				Key1:        os.Getenv("ZALOPAY_KEY1"),
				Key2:        os.Getenv("ZALOPAY_KEY2"),
				Endpoint:    getEnv("ZALOPAY_API_ENDPOINT", "https://sb-openapi.zalopay.vn/v2"),
				CallbackURL: getEnv("ZALOPAY_CALLBACK_URL", "http://localhost:8000/api/payments/zalopay-callback"),
				RedirectURL: getEnv("ZALOPAY_RETURN_URL", "http://localhost:3000/payment/zalopay-return"),
			},
			Timeout: getDuration("GATEWAY_TIMEOUT", gateway.DefaultTimeout),
		},

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RateLimit:      getInt("RATE_LIMIT", 10),
		RateLimitEvery: getDuration("RATE_LIMIT_WINDOW", 15*time.Minute),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "payment-events"),

		SeedDemo: getBool("SEED_DEMO", false),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v, err := decimal.NewFromString(os.Getenv(key))
	if err != nil || v.IsNegative() {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
