package azure

import (
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// ErrAlreadyExists is returned when a create call targets a resource that is
// already there and the call is not allowed to overwrite it.
var ErrAlreadyExists = errors.New("resource already exists")

// NewCredential authenticates the service principal used by the management clients.
func NewCredential(tenantID, clientID, clientSecret string) (azcore.TokenCredential, error) {
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("tenantID, clientID and clientSecret must be provided to create a credential")
	}
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create service principal credential: %w", err)
	}
	return cred, nil
}
