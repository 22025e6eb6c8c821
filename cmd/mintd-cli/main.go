// mintd-cli is the operator cli for a running mint. It talks to the
// admin server over http on localhost.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/opencash/mintd/cashu"
	"github.com/opencash/mintd/cashu/nuts/nut02"
	"github.com/opencash/mintd/mint/manager"
	"github.com/urfave/cli/v2"
)

const keysetFlag = "keyset"

var adminAddr = "http://" + manager.DefaultAddr

func main() {
	if addr, ok := os.LookupEnv("MINT_ADMIN_ADDR"); ok {
		adminAddr = "http://" + addr
	}

	app := &cli.App{
		Name:  "mintd-cli",
		Usage: "cli to interact with the mintd admin server",
		Commands: []*cli.Command{
			{
				Name:  "issued",
				Usage: "Get issued ecash",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  keysetFlag,
						Usage: "Issued ecash for the specified keyset",
					},
				},
				Action: issuedEcash,
			},
			{
				Name:  "redeemed",
				Usage: "Get redeemed ecash",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  keysetFlag,
						Usage: "Redeemed ecash for the specified keyset",
					},
				},
				Action: redeemedEcash,
			},
			{
				Name:   "totalbalance",
				Usage:  "Get total ecash in circulation",
				Action: totalBalance,
			},
			{
				Name:   "keysets",
				Usage:  "List keysets",
				Action: listKeysets,
			},
			{
				Name:      "decodetoken",
				Usage:     "Decode a cashu token",
				ArgsUsage: "[token]",
				Action:    decodeToken,
			},
			{
				Name:  "rotatekeyset",
				Usage: "Rotate keyset",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "fee",
						Usage: "Fee for the new keyset",
					},
				},
				Action: rotateKeyset,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func get(path string, dst any) error {
	resp, err := http.Get(adminAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return errors.New(string(body))
	}
	return json.Unmarshal(body, dst)
}

func printBalance(balance manager.BalanceResponse, verb string) {
	fmt.Printf("%v by keyset:\n", verb)
	for _, keyset := range balance.Keysets {
		fmt.Printf("\t%v: %v\n", keyset.Id, keyset.Amount)
	}
	fmt.Printf("\nTotal %v: %v\n", verb, balance.Total)
}

func issuedEcash(ctx *cli.Context) error {
	if keyset := ctx.String(keysetFlag); len(keyset) > 0 {
		var issuedByKeyset manager.KeysetBalance
		if err := get("/issued/"+keyset, &issuedByKeyset); err != nil {
			return err
		}
		fmt.Printf("Issued: %v\n", issuedByKeyset.Amount)
		return nil
	}

	var issued manager.BalanceResponse
	if err := get("/issued", &issued); err != nil {
		return err
	}
	printBalance(issued, "issued")
	return nil
}

func redeemedEcash(ctx *cli.Context) error {
	if keyset := ctx.String(keysetFlag); len(keyset) > 0 {
		var redeemedByKeyset manager.KeysetBalance
		if err := get("/redeemed/"+keyset, &redeemedByKeyset); err != nil {
			return err
		}
		fmt.Printf("Redeemed: %v\n", redeemedByKeyset.Amount)
		return nil
	}

	var redeemed manager.BalanceResponse
	if err := get("/redeemed", &redeemed); err != nil {
		return err
	}
	printBalance(redeemed, "redeemed")
	return nil
}

func totalBalance(ctx *cli.Context) error {
	var balance manager.TotalBalanceResponse
	if err := get("/totalbalance", &balance); err != nil {
		return err
	}

	printBalance(balance.Issued, "issued")
	printBalance(balance.Redeemed, "redeemed")
	fmt.Printf("\nTotal in circulation: %v\n", balance.InCirculation)
	return nil
}

func listKeysets(ctx *cli.Context) error {
	var keysets nut02.GetKeysetsResponse
	if err := get("/keysets", &keysets); err != nil {
		return err
	}

	fmt.Println("Keysets: ")
	for _, keyset := range keysets.Keysets {
		fmt.Printf("\n%v\n", keyset.Id)
		fmt.Printf("\tunit: %v\n", keyset.Unit)
		fmt.Printf("\tactive: %v\n", keyset.Active)
		fmt.Printf("\tfee: %v\n\n", keyset.InputFeePpk)
	}
	return nil
}

func decodeToken(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		return errors.New("token to decode not specified")
	}

	token, err := cashu.DecodeToken(ctx.Args().First())
	if err != nil {
		return err
	}

	fmt.Printf("Mint: %v\n", token.Mint())
	fmt.Printf("Total amount: %v\n\n", token.Amount())
	fmt.Println("Proofs:")
	for _, proof := range token.Proofs() {
		fmt.Printf("\tamount: %v keyset: %v\n", proof.Amount, proof.Id)
	}
	return nil
}

func rotateKeyset(ctx *cli.Context) error {
	if !ctx.IsSet("fee") {
		return errors.New("please specify a fee for the new keyset")
	}
	fee := ctx.Int("fee")

	resp, err := http.Post(adminAddr+"/rotatekeyset?fee="+strconv.Itoa(fee), "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return errors.New(string(body))
	}

	var newKeyset nut02.Keyset
	if err := json.Unmarshal(body, &newKeyset); err != nil {
		return err
	}

	fmt.Println("New keyset: ")
	fmt.Printf("\n%v\n", newKeyset.Id)
	fmt.Printf("\tunit: %v\n", newKeyset.Unit)
	fmt.Printf("\tactive: %v\n", newKeyset.Active)
	fmt.Printf("\tfee: %v\n\n", newKeyset.InputFeePpk)
	return nil
}
