package wal

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/veraison/go-cose"
)

// CheckpointSigner is a cose.Signer that can also report its key
// identity, so that it can be bound to the checkpoint in a CWT confirmation
// claim.
type CheckpointSigner interface {
	cose.Signer
	PublicKey() (*ecdsa.PublicKey, error)
	KeyIdentifier() string
}

// SealedCheckpointCodec stores the checkpoint as a COSE Sign1 message. The
// public key is carried in the protected header as a CWT CNF claim and the
// checkpoint is verified against it every time it is read. A checkpoint that
// has been tampered with fails with ErrCheckpointVerify.
type SealedCheckpointCodec struct {
	issuer    string
	subject   string
	signer    CheckpointSigner
	cborCodec dtcbor.CBORCodec
}

func NewSealedCheckpointCodec(issuer, subject string, signer CheckpointSigner) (*SealedCheckpointCodec, error) {
	codec, err := dtcbor.NewCBORCodec(
		dtcbor.NewDeterministicEncOpts(),
		dtcbor.NewDeterministicDecOpts(), // unsigned int decodes to uint64
	)
	if err != nil {
		return nil, err
	}
	return &SealedCheckpointCodec{
		issuer:    issuer,
		subject:   subject,
		signer:    signer,
		cborCodec: codec,
	}, nil
}

func (c *SealedCheckpointCodec) EncodeCheckpoint(cp Checkpoint) ([]byte, error) {
	payload, err := c.cborCodec.MarshalCBOR(cp)
	if err != nil {
		return nil, err
	}
	pubKey, err := c.signer.PublicKey()
	if err != nil {
		return nil, err
	}

	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				dtcose.HeaderLabelCWTClaims: dtcose.NewCNFClaim(
					c.issuer, c.subject, c.signer.KeyIdentifier(), c.signer.Algorithm(), *pubKey),
			},
		},
		Payload: payload,
	}
	if err = msg.Sign(rand.Reader, nil, c.signer); err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}

func (c *SealedCheckpointCodec) DecodeCheckpoint(data []byte) (Checkpoint, error) {
	signed, err := dtcose.NewCoseSign1MessageFromCBOR(
		data, dtcose.WithDecOptions(dtcbor.NewDeterministicDecOpts()))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%v: %w", err, ErrCheckpointVerify)
	}
	provider := dtcose.NewCWTPublicKeyProvider(signed)
	if err = signed.VerifyWithProvider(provider, nil); err != nil {
		return Checkpoint{}, fmt.Errorf("%v: %w", err, ErrCheckpointVerify)
	}

	// The signature only proves the message is intact. The key that made it
	// must also be ours.
	if err = c.checkSignerKey(provider); err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err = c.cborCodec.UnmarshalInto(signed.Payload, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("%v: %w", err, ErrCheckpointVerify)
	}
	return cp, nil
}

type publicKeyProvider interface {
	PublicKey() (crypto.PublicKey, cose.Algorithm, error)
}

func (c *SealedCheckpointCodec) checkSignerKey(provider publicKeyProvider) error {
	got, _, err := provider.PublicKey()
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrCheckpointVerify)
	}
	want, err := c.signer.PublicKey()
	if err != nil {
		return err
	}
	ecKey, ok := got.(*ecdsa.PublicKey)
	if !ok || !ecKey.Equal(want) {
		return fmt.Errorf("checkpoint signed by an unexpected key: %w", ErrCheckpointVerify)
	}
	return nil
}
