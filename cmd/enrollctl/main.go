package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/IgorGanapolsky/iot-provisioning-auth/api/registryhandler"
	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/auth"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cmd/flags"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/enrollment"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
	"github.com/IgorGanapolsky/iot-provisioning-auth/security"
	"github.com/urfave/cli/v2"
)

var flagServiceKeyName *cli.StringFlag = &cli.StringFlag{
	Name:  "service-key-name",
	Value: "provisioningserviceowner",
	Usage: "shared access policy name for service tokens",
}
var flagServiceKey *cli.StringFlag = &cli.StringFlag{
	Name:  "service-key",
	Usage: "base64 shared access key used to mint the service token",
}
var flagCAFile *cli.StringFlag = &cli.StringFlag{
	Name:  "ca-file",
	Usage: "PEM file with the registry server CA, system roots if unset",
}

var flagRegistrationID *cli.StringFlag = &cli.StringFlag{
	Name:     "registration-id",
	Required: true,
	Usage:    "device registration identifier",
}
var flagGroupID *cli.StringFlag = &cli.StringFlag{
	Name:     "group-id",
	Required: true,
	Usage:    "enrollment group identifier",
}
var flagDeviceID *cli.StringFlag = &cli.StringFlag{
	Name:  "device-id",
	Usage: "hub device identity, defaults to the registration id",
}
var flagHub *cli.StringFlag = &cli.StringFlag{
	Name:  "hub",
	Usage: "hub hostname overriding the server-wide assignment",
}
var flagSymmetricKey *cli.StringFlag = &cli.StringFlag{
	Name:  "symmetric-key",
	Usage: "base64 primary symmetric key, generated when no credential flag is given",
}
var flagSecondaryKey *cli.StringFlag = &cli.StringFlag{
	Name:  "secondary-key",
	Usage: "base64 secondary symmetric key",
}
var flagCertFile *cli.StringFlag = &cli.StringFlag{
	Name:  "cert-file",
	Usage: "PEM file with the device leaf certificate",
}
var flagCAChainFile *cli.StringFlag = &cli.StringFlag{
	Name:  "ca-chain-file",
	Usage: "PEM file with the signing CA chain",
}
var flagEndorsementKey *cli.StringFlag = &cli.StringFlag{
	Name:  "endorsement-key",
	Usage: "base64 TPM endorsement key",
}
var flagStorageRootKey *cli.StringFlag = &cli.StringFlag{
	Name:  "storage-root-key",
	Usage: "base64 TPM storage root key",
}
var flagDisabled *cli.BoolFlag = &cli.BoolFlag{
	Name:  "disabled",
	Usage: "create the enrollment in disabled state",
}
var flagETag *cli.StringFlag = &cli.StringFlag{
	Name:  "etag",
	Usage: "etag the record must currently carry",
}

var flagGroupKey *cli.StringFlag = &cli.StringFlag{
	Name:     "group-key",
	Required: true,
	Usage:    "base64 enrollment group master key",
}
var flagShares *cli.IntFlag = &cli.IntFlag{
	Name:  "shares",
	Value: 5,
	Usage: "number of shares to split the key into",
}
var flagThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 3,
	Usage: "number of shares required to recover the key",
}
var flagShare *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "share",
	Usage: "base64 key share, repeat once per share",
}

func main() {
	app := &cli.App{
		Name:  "enrollctl",
		Usage: "Manage device enrollments on a provisioning registry",
		Flags: []cli.Flag{
			flags.RegistryURLFlag,
			flagServiceKeyName,
			flagServiceKey,
			flagCAFile,
		},
		Commands: []*cli.Command{
			&cli.Command{
				Name:  "create-individual",
				Usage: "Create or update an individual enrollment",
				Flags: []cli.Flag{
					flagRegistrationID,
					flagDeviceID,
					flagHub,
					flagSymmetricKey,
					flagSecondaryKey,
					flagCertFile,
					flagCAChainFile,
					flagEndorsementKey,
					flagStorageRootKey,
					flagDisabled,
					flagETag,
				},
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.CreateIndividual(cCtx)
				},
			},
			&cli.Command{
				Name:  "get-individual",
				Usage: "Fetch an individual enrollment",
				Flags: []cli.Flag{flagRegistrationID},
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.GetIndividual(cCtx)
				},
			},
			&cli.Command{
				Name:  "delete-individual",
				Usage: "Delete an individual enrollment",
				Flags: []cli.Flag{flagRegistrationID, flagETag},
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.DeleteIndividual(cCtx)
				},
			},
			&cli.Command{
				Name:  "create-group",
				Usage: "Create or update an enrollment group",
				Flags: []cli.Flag{
					flagGroupID,
					flagHub,
					flagCAChainFile,
					flagDisabled,
					flagETag,
				},
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.CreateGroup(cCtx)
				},
			},
			&cli.Command{
				Name:  "get-group",
				Usage: "Fetch an enrollment group",
				Flags: []cli.Flag{flagGroupID},
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.GetGroup(cCtx)
				},
			},
			&cli.Command{
				Name:  "delete-group",
				Usage: "Delete an enrollment group",
				Flags: []cli.Flag{flagGroupID, flagETag},
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.DeleteGroup(cCtx)
				},
			},
			&cli.Command{
				Name:  "generate-key",
				Usage: "Generate a fresh symmetric key pair",
				Action: func(cCtx *cli.Context) error {
					primary, err := generateKey()
					if err != nil {
						return err
					}
					secondary, err := generateKey()
					if err != nil {
						return err
					}
					encoded, _ := json.Marshal(struct {
						PrimaryKey   string `json:"primaryKey"`
						SecondaryKey string `json:"secondaryKey"`
					}{primary, secondary})
					fmt.Println(string(encoded))
					return nil
				},
			},
			&cli.Command{
				Name:  "derive-device-key",
				Usage: "Derive a device key from an enrollment group key",
				Flags: []cli.Flag{flagGroupKey, flagRegistrationID},
				Action: func(cCtx *cli.Context) error {
					deviceKey, err := security.DeriveDeviceKey(cCtx.String(flagGroupKey.Name), cCtx.String(flagRegistrationID.Name))
					if err != nil {
						return err
					}
					fmt.Println(deviceKey)
					return nil
				},
			},
			&cli.Command{
				Name:  "split-key",
				Usage: "Split a group key into Shamir shares",
				Flags: []cli.Flag{flagGroupKey, flagShares, flagThreshold},
				Action: func(cCtx *cli.Context) error {
					shares, err := enrollment.SplitGroupKey(cCtx.String(flagGroupKey.Name), cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
					if err != nil {
						return err
					}
					for _, share := range shares {
						fmt.Println(share)
					}
					return nil
				},
			},
			&cli.Command{
				Name:  "recover-key",
				Usage: "Recover a group key from Shamir shares",
				Flags: []cli.Flag{flagShare},
				Action: func(cCtx *cli.Context) error {
					groupKey, err := enrollment.RecoverGroupKey(cCtx.StringSlice(flagShare.Name))
					if err != nil {
						return err
					}
					fmt.Println(groupKey)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type Client struct {
	Registry *registryhandler.Client
}

func NewClientConfig(cCtx *cli.Context) (*Client, error) {
	baseURL := cCtx.String(flags.RegistryURLFlag.Name)
	registry := registryhandler.NewClient(baseURL)

	if caFile := cCtx.String(flagCAFile.Name); caFile != "" {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("could not read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates in %s", caFile)
		}
		registry.SetHTTPClient(&http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}}})
	}

	if serviceKey := cCtx.String(flagServiceKey.Name); serviceKey != "" {
		token, err := mintServiceToken(baseURL, serviceKey, cCtx.String(flagServiceKeyName.Name))
		if err != nil {
			return nil, fmt.Errorf("could not mint service token: %w", err)
		}
		registry.SetServiceToken(token.Value)
	}

	return &Client{Registry: registry}, nil
}

// mintServiceToken signs a one hour service token scoped to the registry
// host under the configured shared access policy.
func mintServiceToken(baseURL, keyB64, keyName string) (auth.Token, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return auth.Token{}, fmt.Errorf("could not parse registry URL: %w", err)
	}
	host, err := interfaces.NewHostname(parsed.Hostname())
	if err != nil {
		return auth.Token{}, fmt.Errorf("registry URL host cannot scope a service token: %w", err)
	}

	signer, err := security.NewSymmetricKeyProvider("management", keyB64, "")
	if err != nil {
		return auth.Token{}, err
	}
	scope := auth.Scope{Hostname: host, DeviceID: signer.RegistrationID()}
	return auth.BuildToken(signer, scope, time.Hour, keyName, time.Now())
}

func (c *Client) CreateIndividual(cCtx *cli.Context) error {
	mechanism, err := buildMechanism(cCtx)
	if err != nil {
		return err
	}

	record, err := enrollment.NewIndividualEnrollment(cCtx.String(flagRegistrationID.Name), mechanism)
	if err != nil {
		return err
	}
	record.DeviceID = cCtx.String(flagDeviceID.Name)
	if hub := cCtx.String(flagHub.Name); hub != "" {
		record.IoTHubHostName, err = interfaces.NewHostname(hub)
		if err != nil {
			return err
		}
	}
	if cCtx.Bool(flagDisabled.Name) {
		record.ProvisioningStatus = enrollment.StatusDisabled
	}

	stored, err := c.Registry.UpsertIndividualEnrollment(context.Background(), record, cCtx.String(flagETag.Name))
	if err != nil {
		return err
	}
	encoded, _ := json.Marshal(stored)
	fmt.Println(string(encoded))
	return nil
}

func (c *Client) GetIndividual(cCtx *cli.Context) error {
	id, err := interfaces.NewRegistrationID(cCtx.String(flagRegistrationID.Name))
	if err != nil {
		return err
	}

	record, err := c.Registry.GetIndividualEnrollment(context.Background(), id)
	if err != nil {
		return err
	}
	encoded, _ := json.Marshal(record)
	fmt.Println(string(encoded))
	return nil
}

func (c *Client) DeleteIndividual(cCtx *cli.Context) error {
	id, err := interfaces.NewRegistrationID(cCtx.String(flagRegistrationID.Name))
	if err != nil {
		return err
	}
	return c.Registry.DeleteIndividualEnrollment(context.Background(), id, cCtx.String(flagETag.Name))
}

func (c *Client) CreateGroup(cCtx *cli.Context) error {
	chainFile := cCtx.String(flagCAChainFile.Name)
	if chainFile == "" {
		return fmt.Errorf("enrollment groups require --%s", flagCAChainFile.Name)
	}
	chainPEM, err := os.ReadFile(chainFile)
	if err != nil {
		return fmt.Errorf("could not read CA chain file: %w", err)
	}
	chain, err := cryptoutils.NewCertChain(chainPEM)
	if err != nil {
		return err
	}
	mechanism, err := attestation.NewX509SigningMechanism(chain)
	if err != nil {
		return err
	}

	record, err := enrollment.NewEnrollmentGroup(cCtx.String(flagGroupID.Name), mechanism)
	if err != nil {
		return err
	}
	if hub := cCtx.String(flagHub.Name); hub != "" {
		record.IoTHubHostName, err = interfaces.NewHostname(hub)
		if err != nil {
			return err
		}
	}
	if cCtx.Bool(flagDisabled.Name) {
		record.ProvisioningStatus = enrollment.StatusDisabled
	}

	stored, err := c.Registry.UpsertEnrollmentGroup(context.Background(), record, cCtx.String(flagETag.Name))
	if err != nil {
		return err
	}
	encoded, _ := json.Marshal(stored)
	fmt.Println(string(encoded))
	return nil
}

func (c *Client) GetGroup(cCtx *cli.Context) error {
	id, err := interfaces.NewGroupID(cCtx.String(flagGroupID.Name))
	if err != nil {
		return err
	}

	record, err := c.Registry.GetEnrollmentGroup(context.Background(), id)
	if err != nil {
		return err
	}
	encoded, _ := json.Marshal(record)
	fmt.Println(string(encoded))
	return nil
}

func (c *Client) DeleteGroup(cCtx *cli.Context) error {
	id, err := interfaces.NewGroupID(cCtx.String(flagGroupID.Name))
	if err != nil {
		return err
	}
	return c.Registry.DeleteEnrollmentGroup(context.Background(), id, cCtx.String(flagETag.Name))
}

// buildMechanism assembles the attestation mechanism from whichever
// credential flags were given. Without any it generates a fresh symmetric
// key pair, which the printed record echoes back.
func buildMechanism(cCtx *cli.Context) (attestation.Mechanism, error) {
	switch {
	case cCtx.String(flagSymmetricKey.Name) != "":
		return attestation.NewSymmetricKeyMechanism(cCtx.String(flagSymmetricKey.Name), cCtx.String(flagSecondaryKey.Name))

	case cCtx.String(flagCertFile.Name) != "":
		certPEM, err := os.ReadFile(cCtx.String(flagCertFile.Name))
		if err != nil {
			return attestation.Mechanism{}, fmt.Errorf("could not read certificate file: %w", err)
		}
		cert, err := cryptoutils.NewDeviceCert(certPEM)
		if err != nil {
			return attestation.Mechanism{}, err
		}
		return attestation.NewX509LeafMechanism(cert)

	case cCtx.String(flagCAChainFile.Name) != "":
		chainPEM, err := os.ReadFile(cCtx.String(flagCAChainFile.Name))
		if err != nil {
			return attestation.Mechanism{}, fmt.Errorf("could not read CA chain file: %w", err)
		}
		chain, err := cryptoutils.NewCertChain(chainPEM)
		if err != nil {
			return attestation.Mechanism{}, err
		}
		return attestation.NewX509SigningMechanism(chain)

	case cCtx.String(flagEndorsementKey.Name) != "":
		endorsementKey, err := base64.StdEncoding.DecodeString(cCtx.String(flagEndorsementKey.Name))
		if err != nil {
			return attestation.Mechanism{}, fmt.Errorf("invalid endorsement key: %w", err)
		}
		var storageRootKey []byte
		if srk := cCtx.String(flagStorageRootKey.Name); srk != "" {
			storageRootKey, err = base64.StdEncoding.DecodeString(srk)
			if err != nil {
				return attestation.Mechanism{}, fmt.Errorf("invalid storage root key: %w", err)
			}
		}
		return attestation.NewTPMMechanism(endorsementKey, storageRootKey)

	default:
		primary, err := generateKey()
		if err != nil {
			return attestation.Mechanism{}, err
		}
		secondary, err := generateKey()
		if err != nil {
			return attestation.Mechanism{}, err
		}
		return attestation.NewSymmetricKeyMechanism(primary, secondary)
	}
}

func generateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("could not generate key material: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
