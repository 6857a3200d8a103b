// usnd-feeder manages price feeder keys and submits signed price reports to
// a running usnd gateway.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"usnd/cmd/internal/passphrase"
	"usnd/crypto"
	"usnd/oracle"
)

const passphraseEnv = "USND_FEEDER_PASSPHRASE"

var secrets = passphrase.NewSource(passphraseEnv)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "generate-key":
		err = generateKey(os.Args[2:])
	case "address":
		err = printAddress(os.Args[2:])
	case "report":
		err = submitReport(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "usnd-feeder: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: usnd-feeder <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key -keystore <path>      Create a feeder key")
	fmt.Println("  address      -keystore <path>      Print the feeder address")
	fmt.Println("  report       -keystore <path> ...  Sign and submit a price report")
	fmt.Printf("The keystore passphrase is read from %s or prompted.\n", passphraseEnv)
}

func generateKey(args []string) error {
	flags := flag.NewFlagSet("generate-key", flag.ExitOnError)
	keystorePath := flags.String("keystore", "feeder.json", "keystore file to create")
	if err := flags.Parse(args); err != nil {
		return err
	}
	secret, err := secrets.Get()
	if err != nil {
		return err
	}
	if _, err := os.Stat(*keystorePath); err == nil {
		return fmt.Errorf("keystore %s already exists", *keystorePath)
	}
	key, err := crypto.GenerateFeederKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveKeystore(*keystorePath, key, secret); err != nil {
		return err
	}
	fmt.Printf("keystore: %s\naddress:  %s\n", *keystorePath, key.Address().Hex())
	return nil
}

func printAddress(args []string) error {
	flags := flag.NewFlagSet("address", flag.ExitOnError)
	keystorePath := flags.String("keystore", "feeder.json", "keystore file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath)
	if err != nil {
		return err
	}
	fmt.Println(key.Address().Hex())
	return nil
}

func loadKey(path string) (*crypto.FeederKey, error) {
	secret, err := secrets.Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadKeystore(path, secret)
}

func submitReport(args []string) error {
	flags := flag.NewFlagSet("report", flag.ExitOnError)
	keystorePath := flags.String("keystore", "feeder.json", "keystore file")
	provider := flags.String("provider", "", "registered provider identifier")
	asset := flags.String("asset", "wrap.near", "asset identifier being quoted")
	multiplier := flags.String("multiplier", "", "price multiplier")
	decimals := flags.Uint("decimals", 28, "price decimals")
	recency := flags.Uint64("recency", 60, "report validity in seconds")
	endpoint := flags.String("endpoint", "http://127.0.0.1:8080", "gateway base URL, empty to print the report")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*provider) == "" {
		return fmt.Errorf("provider required")
	}
	parsed, ok := new(big.Int).SetString(strings.TrimSpace(*multiplier), 10)
	if !ok || parsed.Sign() <= 0 {
		return fmt.Errorf("invalid multiplier %q", *multiplier)
	}
	key, err := loadKey(*keystorePath)
	if err != nil {
		return err
	}

	report := &oracle.SignedReport{
		Domain:   oracle.ReportDomainV1,
		Provider: *provider,
		Data: oracle.PriceData{
			Timestamp:       uint64(time.Now().UnixNano()),
			RecencyDuration: *recency * uint64(time.Second),
			Prices: []oracle.AssetPrice{
				{AssetID: *asset, Price: &oracle.Price{Multiplier: parsed, Decimals: uint8(*decimals)}},
			},
		},
	}
	if err := report.Sign(key.PrivateKey); err != nil {
		return err
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*endpoint) == "" {
		fmt.Println(string(payload))
		return nil
	}

	url := strings.TrimRight(*endpoint, "/") + "/v1/oracle/report"
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway rejected the report: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Printf("report accepted by %s\n", url)
	return nil
}
