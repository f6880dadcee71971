package main

import (
	"context"

	"github.com/spf13/cobra"

	"shopfiscal/internal/app"
	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/pkg/logger"
)

func seedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the default fiscal catalog",
		Long: `Load the default regimes, tax types and obligation kinds.

Entries whose code already exists are left untouched, so the command can run repeatedly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), seedCatalog)
		},
	}
}

func seedCatalog(ctx context.Context, e *app.Engine) error {
	regimes := []*catalog.Regime{
		catalog.NewRegime("SIMPLES", "Simples Nacional"),
		catalog.NewRegime("MEI", "Microempreendedor Individual"),
		catalog.NewRegime("LUCRO_PRESUMIDO", "Lucro Presumido"),
		catalog.NewRegime("LUCRO_REAL", "Lucro Real"),
	}
	taxTypes := []*catalog.TaxType{
		catalog.NewTaxType("ICMS", "Imposto sobre Circulação de Mercadorias e Serviços"),
		catalog.NewTaxType("ISS", "Imposto sobre Serviços"),
		catalog.NewTaxType("IPI", "Imposto sobre Produtos Industrializados"),
		catalog.NewTaxType("PIS", "Programa de Integração Social"),
		catalog.NewTaxType("COFINS", "Contribuição para o Financiamento da Seguridade Social"),
		catalog.NewTaxType("IRPJ", "Imposto de Renda Pessoa Jurídica"),
		catalog.NewTaxType("CSLL", "Contribuição Social sobre o Lucro Líquido"),
	}
	kinds := []*catalog.ObligationKind{
		catalog.NewObligationKind("PGDAS-D", "Programa Gerador do DAS", catalog.Monthly),
		catalog.NewObligationKind("EFD-ICMS-IPI", "EFD ICMS/IPI", catalog.Monthly),
		catalog.NewObligationKind("EFD-CONTRIB", "EFD Contribuições", catalog.Monthly),
		catalog.NewObligationKind("DEFIS", "Declaração de Informações Socioeconômicas e Fiscais", catalog.Annual),
		catalog.NewObligationKind("ECF", "Escrituração Contábil Fiscal", catalog.Annual),
	}

	created := 0
	for _, r := range regimes {
		n, err := seedEntry(ctx, e.Catalog.Regimes, r)
		if err != nil {
			return err
		}
		created += n
	}
	for _, t := range taxTypes {
		n, err := seedEntry(ctx, e.Catalog.TaxTypes, t)
		if err != nil {
			return err
		}
		created += n
	}
	for _, k := range kinds {
		n, err := seedEntry(ctx, e.Catalog.ObligationKinds, k)
		if err != nil {
			return err
		}
		created += n
	}

	logger.Info(ctx, "catalog seeded", "created", created)
	return nil
}

func seedEntry[T entity.CatalogEntry](ctx context.Context, svc *catalog.Service[T], item T) (int, error) {
	_, err := svc.GetByCode(ctx, item.GetCode())
	if err == nil {
		return 0, nil
	}
	if !apperror.IsNotFound(err) {
		return 0, err
	}
	if err := svc.Create(ctx, item); err != nil {
		return 0, err
	}
	return 1, nil
}
