package main

import (
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"kassa/internal/validation"
)

func main() {
	baseURL := pflag.String("url", "http://localhost:8081", "Base URL for API validation")
	adminEmail := pflag.String("admin-email", "admin@kassa.local", "admin account")
	buyerEmail := pflag.String("buyer-email", "buyer@kassa.local", "buyer account")
	password := pflag.String("password", "kassa", "password of both accounts")
	pflag.Parse()

	validator := validation.NewLifecycleValidator(*baseURL,
		validation.Credentials{Email: *adminEmail, Password: *password},
		validation.Credentials{Email: *buyerEmail, Password: *password})

	if err := validator.ValidateAll(); err != nil {
		slog.Error("❌ Валидация не пройдена", "error", err)
		os.Exit(1)
	}

	slog.Info("✅ Валидация успешно пройдена!")
}
