package garanti

import (
	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/provider"
)

func init() {
	provider.Register(entity.ProviderGaranti, New)
}
