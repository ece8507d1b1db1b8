package main

import (
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/hashlocklabs/slicefill/params"
	"github.com/hashlocklabs/slicefill/pkg/crypto"
	"github.com/hashlocklabs/slicefill/pkg/order"
)

// sign-order builds and signs one sliced-order descriptor offline, printing
// the typed data, digest and signature. Useful for poking a relayer without
// running the daemon.
func main() {
	var (
		orderIDHex = flag.String("order-id", "", "order identifier (bytes32 hex)")
		total      = flag.String("total", "100", "total amount")
		slice      = flag.String("slice", "20", "slice size")
		expiry     = flag.Duration("expiry", 24*time.Hour, "order expiration")
	)
	flag.Parse()

	cfg := params.LoadFromEnv("")

	var signer *crypto.Signer
	var err error
	if cfg.PrivateKey != "" {
		signer, err = crypto.FromPrivateKeyHex(cfg.PrivateKey)
	} else {
		fmt.Println("PRIVATE_KEY not set, generating a throwaway key")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Maker: %s\n\n", signer.Address().Hex())

	orderID := common.HexToHash(*orderIDHex)
	totalAmount, ok := new(big.Int).SetString(*total, 10)
	if !ok {
		fmt.Fprintln(os.Stderr, "bad -total")
		os.Exit(1)
	}
	sliceSize, ok := new(big.Int).SetString(*slice, 10)
	if !ok {
		fmt.Fprintln(os.Stderr, "bad -slice")
		os.Exit(1)
	}

	predicate, err := order.EncodePredicate(orderID, sliceSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "predicate: %v\n", err)
		os.Exit(1)
	}

	desc, err := order.Build(order.BuildParams{
		Maker:        signer.Address(),
		Receiver:     cfg.Ledger.VaultAddr,
		MakerAsset:   cfg.Order.MakerAsset,
		TakerAsset:   cfg.Order.TakerAsset,
		MakingAmount: totalAmount,
		TakingAmount: totalAmount,
		Expiration:   time.Now().Add(*expiry),
		Predicate:    predicate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build: %v\n", err)
		os.Exit(1)
	}

	typed := order.NewTypedDataSigner(order.SettlementDomain(cfg.Ledger.ChainID, cfg.Order.Settlement))

	signingJSON, err := typed.SigningJSON(desc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "typed data: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Typed data (eth_signTypedData_v4):")
	fmt.Println(string(signingJSON))

	sig, digest, err := typed.Sign(signer, desc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDigest:    %s\n", digest.Hex())
	fmt.Printf("Signature: %s\n", hexutil.Encode(sig))

	recovered, err := typed.Recover(desc, sig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recover: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recovered: %s (match=%v)\n", recovered.Hex(), recovered == signer.Address())
}
