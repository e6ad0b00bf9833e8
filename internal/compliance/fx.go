package compliance

import (
	"github.com/smallbiznis/provenance/internal/compliance/repository"
	"github.com/smallbiznis/provenance/internal/compliance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("compliance.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
