package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/opencash/mintd/cashu/nuts/nut06"
	"github.com/opencash/mintd/mint"
	"github.com/opencash/mintd/mint/lightning"
	"github.com/opencash/mintd/mint/manager"
)

func configFromEnv() (*mint.Config, error) {
	var inputFeePpk uint = 0
	if inputFeeEnv, ok := os.LookupEnv("INPUT_FEE_PPK"); ok {
		fee, err := strconv.ParseUint(inputFeeEnv, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid INPUT_FEE_PPK: %v", err)
		}
		inputFeePpk = uint(fee)
	}

	port := os.Getenv("MINT_PORT")
	if len(port) == 0 {
		port = "3338"
	}

	mintLimits := mint.MintLimits{}
	if maxBalanceEnv, ok := os.LookupEnv("MAX_BALANCE"); ok {
		maxBalance, err := strconv.ParseUint(maxBalanceEnv, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_BALANCE: %v", err)
		}
		mintLimits.MaxBalance = maxBalance
	}
	if maxMintEnv, ok := os.LookupEnv("MINTING_MAX_AMOUNT"); ok {
		maxMint, err := strconv.ParseUint(maxMintEnv, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MINTING_MAX_AMOUNT: %v", err)
		}
		mintLimits.MintingSettings = mint.MintMethodSettings{MaxAmount: maxMint}
	}
	if maxMeltEnv, ok := os.LookupEnv("MELTING_MAX_AMOUNT"); ok {
		maxMelt, err := strconv.ParseUint(maxMeltEnv, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MELTING_MAX_AMOUNT: %v", err)
		}
		mintLimits.MeltingSettings = mint.MeltMethodSettings{MaxAmount: maxMelt}
	}

	var lightningClient lightning.Client
	switch backend := os.Getenv("LIGHTNING_BACKEND"); backend {
	case "lnd", "":
		lndClient, err := lightning.CreateLndClient()
		if err != nil {
			return nil, fmt.Errorf("error setting up lnd client: %v", err)
		}
		lightningClient = lndClient
	case "cln":
		clnClient, err := lightning.CreateCLNClient()
		if err != nil {
			return nil, fmt.Errorf("error setting up cln client: %v", err)
		}
		lightningClient = clnClient
	case "fake":
		lightningClient = &lightning.FakeBackend{}
	default:
		return nil, fmt.Errorf("invalid lightning backend: %v", backend)
	}

	logLevel := mint.Info
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = mint.Debug
	}

	contact := []nut06.ContactInfo{}
	if email, ok := os.LookupEnv("MINT_CONTACT_EMAIL"); ok {
		contact = append(contact, nut06.ContactInfo{Method: "email", Info: email})
	}

	return &mint.Config{
		Port:        port,
		MintPath:    os.Getenv("MINT_PATH"),
		InputFeePpk: inputFeePpk,
		MintInfo: mint.MintInfo{
			Name:            os.Getenv("MINT_NAME"),
			Description:     os.Getenv("MINT_DESCRIPTION"),
			LongDescription: os.Getenv("MINT_DESCRIPTION_LONG"),
			Contact:         contact,
			Motd:            os.Getenv("MINT_MOTD"),
		},
		Limits:          mintLimits,
		LightningClient: lightningClient,
		LogLevel:        logLevel,
	}, nil
}

func main() {
	envPath := flag.String("env", "", "path to .env file")
	flag.Parse()

	if len(*envPath) > 0 {
		if err := godotenv.Load(*envPath); err != nil {
			log.Fatalf("error loading .env file: %v", err)
		}
	} else {
		// load .env from current dir if one exists
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("error loading .env file: %v", err)
		}
	}

	config, err := configFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	m, err := mint.LoadMint(*config)
	if err != nil {
		log.Fatalf("error loading mint: %v", err)
	}

	mintServer := mint.SetupMintServer(m, config.Port)
	adminServer := manager.SetupServer(m, os.Getenv("MINT_ADMIN_ADDR"))

	go func() {
		if err := adminServer.Start(); err != nil {
			log.Fatalf("error running admin server: %v", err)
		}
	}()

	go func() {
		if err := mintServer.Start(); err != nil {
			log.Fatalf("error running mint server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	adminServer.Shutdown()
	mintServer.Shutdown(context.Background())
}
