package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Peertrade MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolBrowseOrders = mcp.NewTool("browse_orders",
	mcp.WithDescription(
		"Browse active BZR buy/sell orders on the Peertrade marketplace. "+
			"Each order shows the unit price in fiat, the tradable amount range and "+
			"accepted payment methods. Use this to find an order before opening a trade."),
	mcp.WithString("side",
		mcp.Description("Filter by order side: 'sell' (owner sells BZR) or 'buy' (owner buys BZR)"),
		mcp.Enum("sell", "buy")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of orders to return (default 20)")),
)

var ToolOpenTrade = mcp.NewTool("open_trade",
	mcp.WithDescription(
		"Open an escrow-backed trade against an active order. "+
			"The seller's BZR is locked in escrow immediately and a payment deadline starts. "+
			"If you are the buyer, pay the fiat leg off-platform and then use mark_payment_sent."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("The order ID from browse_orders (e.g. 'ord_...')")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("BZR amount to trade, within the order's min/max range (e.g. '25.5')")),
)

var ToolGetTrade = mcp.NewTool("get_trade",
	mcp.WithDescription(
		"Get the current state of one of your trades: phase, escrow status, "+
			"payment deadline and any submitted payment proof."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade ID (e.g. 'trd_...')")),
)

var ToolListTrades = mcp.NewTool("list_trades",
	mcp.WithDescription(
		"List your trades, newest first, with their phases. "+
			"Use get_trade for the full detail of a single trade."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of trades to return (default 20)")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check your BZR balance on Peertrade: available funds and the amount "+
			"currently locked in trade escrows."),
)

var ToolMarkPaymentSent = mcp.NewTool("mark_payment_sent",
	mcp.WithDescription(
		"As the buyer, record that you sent the fiat payment for a trade. "+
			"Do this only after actually paying; the seller will verify before releasing the BZR."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade ID (e.g. 'trd_...')")),
)

var ToolConfirmPayment = mcp.NewTool("confirm_payment",
	mcp.WithDescription(
		"As the seller, confirm the fiat payment arrived. This releases the escrowed "+
			"BZR to the buyer and completes the trade. Irreversible."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade ID (e.g. 'trd_...')")),
)

var ToolPostMessage = mcp.NewTool("post_message",
	mcp.WithDescription(
		"Send a chat message to the counterparty of one of your trades. "+
			"Use this to coordinate the fiat payment or ask questions."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade ID (e.g. 'trd_...')")),
	mcp.WithString("body",
		mcp.Required(),
		mcp.Description("Message text")),
)

var ToolReadMessages = mcp.NewTool("read_messages",
	mcp.WithDescription(
		"Read the chat log of one of your trades, including system messages that "+
			"record every lifecycle step."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade ID (e.g. 'trd_...')")),
	mcp.WithNumber("after_seq",
		mcp.Description("Only return messages with a sequence number greater than this")),
)

var ToolDisputeTrade = mcp.NewTool("dispute_trade",
	mcp.WithDescription(
		"Open a dispute on a trade when the counterparty is unresponsive or the "+
			"payment went wrong. The escrow freezes until an arbiter rules on it."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade ID (e.g. 'trd_...')")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Explanation of what went wrong")),
)
