package payten

import (
	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/provider"
)

func init() {
	provider.Register(entity.ProviderPayten, New)
}
