package config

// defaultFields is the field set of the reference benchmark: descriptive,
// pricing, rating, dividend, estimate and ranking fields of an equity.
var defaultFields = []string{
	"TR.CommonName", "TR.ISINCode", "TR.PriceClose.Currency", "TR.HeadquartersCountry", "TR.TRBCEconomicSector",
	"TR.TRBCBusinessSector", "TR.PriceMainIndexRIC", "TR.FreeFloat", "TR.SharesOutstanding", "TR.CompanyMarketCapitalization",
	"TR.IssuerRating(IssuerRatingSrc=SPI,RatingScope=DMS)", "TR.IssuerRating(IssuerRatingSrc=MIS,RatingScope=DMS)",
	"TR.IssuerRating(IssuerRatingSrc=FDL,RatingScope=DMS)", "TR.PriceClose", "TR.PricePctChg1D", "TR.Volatility5D",
	"TR.Volatility10D", "TR.Volatility30D", "TR.RSISimple14D", "TR.WACCBeta", "TR.BetaFiveYear", "TR.DivAnnouncementDate",
	"TR.DivExDate", "TR.DivPayDate", "TR.DivAdjustedGross", "TR.DivAdjustedNet", "TR.RelValPECOmponent",
	"TR.RelValEVEBITDACOmponent", "TR.RelValDividendYieldCOmponent", "TR.RelValEVSalesCOmponent",
	"TR.RelValPriceCashFlowCOmponent", "TR.RelValPriceBookCOmponent", "TR.RecMean", "TR.RecLabel", "TR.RevenueSmartEst",
	"TR.RevenueMean", "TR.RevenueMedian", "TR.NetprofitSmartEst", "TR.NetProfitMean", "TR.NetProfitMedian", "TR.DPSSmartEst",
	"TR.DPSMean", "TR.DPSMedian", "TR.EpsSmartEst", "TR.EPSMean", "TR.EPSMedian", "TR.PriceSalesRatioSmartEst",
	"TR.PriceSalesRatioMean", "TR.PriceSalesRatioMedian", "TR.PriceMoRegionRank", "TR.SICtryRank", "TR.EQCountryListRank1_Latest",
	"TR.CreditComboRegionRank", "TR.CreditRatioRegionRank", "TR.CreditStructRegRank", "TR.CreditTextRegRank",
	"TR.TRESGScoreGrade(Period=FY0)", "TR.TRESGCScoreGrade(Period=FY0)", "TR.TRESGCControversiesScoreGrade(Period=FY0)",
}

// DefaultFields returns a copy of the default field set.
func DefaultFields() []string {
	return append([]string(nil), defaultFields...)
}
