package crypto

import (
	"github.com/pkg/errors"
)

// Fake keys whose Raw() always fails, used to exercise marshalling error
// paths in tests.

type PubErrorKey struct{}

var _ PubKey = &PubErrorKey{}

func (k *PubErrorKey) Equals(Key) bool {
	return true
}

func (k *PubErrorKey) Raw() ([]byte, error) {
	return []byte{}, errors.Errorf("test error")
}

func (k *PubErrorKey) Type() KeyType {
	return 3
}

func (k *PubErrorKey) Verify(data []byte, sigStr []byte) (success bool, err error) {
	return true, nil
}

type PrivErrorKey struct{}

var _ PrivKey = &PrivErrorKey{}

func (k *PrivErrorKey) Equals(Key) bool {
	return true
}

func (k *PrivErrorKey) Raw() ([]byte, error) {
	return []byte{}, errors.Errorf("test error")
}

func (k *PrivErrorKey) Type() KeyType {
	return 3
}

func (k *PrivErrorKey) GetPublic() PubKey {
	return &PubErrorKey{}
}

func (k *PrivErrorKey) Sign([]byte) ([]byte, error) {
	return nil, errors.Errorf("test error")
}
